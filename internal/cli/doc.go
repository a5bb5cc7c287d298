// Package cli implements the fleetrun command-line interface.
//
// The root command takes one or more run files, merges them, and executes
// the resulting run against every host they name:
//
//	fleetrun -b ./results bench.yaml hosts.yaml
//	fleetrun validate bench.yaml
//	fleetrun version
//
// # Settings
//
// Pool sizes, SSH credentials, output location and color are layered by
// viper: built-in defaults, then ~/.config/fleetrun/config.yaml, then
// FLEETRUN_* environment variables, then flags. State entries given with
// -S override the ones in the run files.
//
// # Output
//
// Each run writes into its own directory: run.log holds the debug-level
// log, metrics.prom the per-script phase timings, and downloaded files
// land under <hostname>/. The directory is either a timestamped folder
// under --base-path or exactly --full-path.
//
// SIGINT and SIGTERM abort the run. Scripts stop at their next step and
// queued downloads are listed instead of fetched.
package cli

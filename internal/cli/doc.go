// Package cli implements the fleetup command-line interface.
//
// Each Cobra command is a thin shell: it loads config into an App (the
// ledger, prober, role catalog, work-unit builder and Ansible runner wired
// together) and hands off to a command function that takes an io.Writer, so
// the logic is testable without the command tree.
//
// # Command Structure
//
//	fleetup hosts [--json]            - ssh_config aliases with cached status
//	fleetup hosts reset <host>...     - Clear cached status
//	fleetup probe [host...] [--json]  - Fresh reachability / sudo probes
//	fleetup install <tool> <host>...  - Idempotent install
//	fleetup check <tool> <host>...    - Ledger vs. remote state
//	fleetup tools                     - Role catalog
//	fleetup forget <tool> <host>...   - Drop installation records
//	fleetup version
//
// # Exit Codes
//
// Commands return structured errors (internal/errors) which Execute prints.
// install exits 1 without printing an error when the batch finished but some
// host did not end with the tool installed; the outcome table already says
// why.
package cli

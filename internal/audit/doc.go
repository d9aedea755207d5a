// Package audit keeps a log of control-channel changes in the control_log
// table.
//
// Every request that changes device modes or compensation settings is
// recorded with the device it addressed and the parameters it set, so a
// session can be reconstructed after the fact. The status API serves the log
// read-only.
package audit

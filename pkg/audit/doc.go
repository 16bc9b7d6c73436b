// Package audit provides an append-only trail of routed envelopes.
//
// Every envelope carries a server-assigned message ID. The router mirrors
// the outcome of each routed envelope (type, originator, document, status)
// to a Recorder so operators can reconstruct what a connection did and
// when, independent of the in-memory route history.
//
// # Usage
//
// Attach a recorder through the coordinator config:
//
//	rec, err := audit.NewDiskRecorder("/var/log/syncroom")
//	if err != nil {
//	    return err
//	}
//	defer rec.Close()
//
//	cfg := coordinator.DefaultConfig()
//	cfg.Recorder = rec
//
// Recording is best-effort: a failed write is logged and never blocks or
// fails the envelope that produced it.
//
// The default backend appends JSON lines to one file per UTC day. An S3
// backend is sketched in s3_example.go behind the s3audit build tag.
package audit

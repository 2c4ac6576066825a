// Package camera implements the frame-acquisition pipeline for rig cameras.
//
// Each Pipeline owns one external capture process (an ffmpeg-style rawvideo
// decoder) and one background read loop that continuously pulls fixed-size
// raw frames from the process's output pipe and publishes the freshest one
// into a Mailbox. Consumers call AsyncRead with a bounded wait and always
// receive the most recent frame, never a queue of stale ones.
//
// Failure model:
//   - Short reads and transient read errors are logged and the loop continues.
//   - A dead capture process makes the loop exit; subsequent AsyncRead calls
//     time out until the caller disconnects and reconnects. The pipeline
//     never reconnects on its own.
//
// Thread Safety:
//   - A Pipeline is safe for concurrent AsyncRead from multiple goroutines.
//     All of them share one Mailbox; see Mailbox for the freshness contract.
package camera

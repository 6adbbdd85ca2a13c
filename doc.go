// Package recorder records a display capture, a camera and mixed audio
// into one WebM or Matroska file.
//
// Key pieces include:
//   - SourceHandle, MediaStream and MediaDevices: live capture sources
//     obtained from a DeviceProvider
//   - Compositor: draws a primary video and a camera overlay onto a Canvas
//     and republishes it as a video track at a fixed rate
//   - Mix: an audio graph summing several audio tracks into one
//   - Assembler: builds the recorded stream for a RecordingMode
//   - Session: drives an Encoder, collecting chunks every slice interval
//   - Package: turns the chunk sequence into a downloadable Artifact
//   - Recorder: the controller tying previews, recordings and export together
//
// # Architecture
//
//	Screen: display video ------------------------------> stream
//	        display audio + mic -> Mix ------------------> stream
//	Camera: camera video [-> Compositor when mirrored] -> stream
//	        mic audio ----------------------------------> stream
//	Both:   display + camera -> Compositor -------------> stream
//	        display audio + mic -> Mix ------------------> stream
//	stream -> Encoder -> chunks -> Package -> Artifact
//
// Every start attempt owns a Scope; whatever it acquired is released if
// the attempt fails, and by the Session when the recording ends.
//
// # Native Libraries
//
// VP8/VP9 and Opus come from libmedia_vpx and libstream_opus, loaded with
// purego at runtime. Set SCREENREC_LIB_PATH to the directory holding them.
// Without them recordings fall back to MJPEG and PCM in Matroska.
//
// # Build Tags
//
//   - nonative: never load native codec libraries
package recorder

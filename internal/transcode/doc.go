// Package transcode normalizes arbitrary input audio into the mono 16-bit PCM
// buffer consumed by the pipeline. The default implementation shells out to ffmpeg.
package transcode

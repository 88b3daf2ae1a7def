package models

// FrameRecord is an immutable tuple retained by the FrameCollector ring
// buffer. TimestampMs is monotonic milliseconds, not wall-clock.
type FrameRecord struct {
	TimestampMs int64
	Gray        *Image // 8-bit, 1 channel
	Color       *Image // 8-bit, 3 channel, optional
}

// Release frees both backing images. Safe on a zero-value FrameRecord.
func (f FrameRecord) Release() {
	f.Gray.Close()
	f.Color.Close()
}

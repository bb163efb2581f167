package model

import "time"

// Frame is one captured image travelling from a capture unit to a processing unit
type Frame struct {
	CameraID  int       `json:"camera_id"`
	Seq       uint64    `json:"seq"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Encoding  string    `json:"encoding"`
	Data      []byte    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Clone returns a deep copy of the frame
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	c := *f
	if f.Data != nil {
		c.Data = make([]byte, len(f.Data))
		copy(c.Data, f.Data)
	}
	return &c
}

// Empty reports whether the frame carries no pixel data
func (f *Frame) Empty() bool {
	return f == nil || len(f.Data) == 0
}

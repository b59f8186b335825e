package transport

import "time"

const pongWriteTimeout = 5 * time.Second

func deadlineNow() time.Time {
	return time.Now().Add(pongWriteTimeout)
}

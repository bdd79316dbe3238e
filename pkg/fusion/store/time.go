package store

import "time"

func timeFromUnixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func unixToTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

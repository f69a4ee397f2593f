package timeutil

import "time"

func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

func NowUnix() int64 {
	return time.Now().Unix()
}

package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamMetaKey returns the cache key for the lifecycle-relevant exam fields (duration, retired flag).
func (r *CacheKeyStruct) ExamMetaKey(examID string) string {
	return fmt.Sprintf("exam:%s:meta", examID)
}

// DriveMonitorChannel returns the Redis PubSub channel carrying attempt lifecycle events of a drive.
func (r *CacheKeyStruct) DriveMonitorChannel(driveID string) string {
	return fmt.Sprintf("drive:%s:monitor", driveID)
}

var CacheKey = NewCacheKeyStruct()

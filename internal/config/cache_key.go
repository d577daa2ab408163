package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// VideoQuestionsKey returns the cache key for a course's video question set
func (r *CacheKeyStruct) VideoQuestionsKey(courseID string) string {
	return fmt.Sprintf("course:%s:video_questions", courseID)
}

// ActiveVideoTestKey returns the key holding the session id of a student's
// live video test for a course
func (r *CacheKeyStruct) ActiveVideoTestKey(studentID, courseID string) string {
	return fmt.Sprintf("student:%s:course:%s:video_test", studentID, courseID)
}

var CacheKey = NewCacheKeyStruct()

package util

import "errors"

var (
	ErrBatchNotFound   = errors.New("batch not found")
	ErrSchoolNotFound  = errors.New("school not found in batch")
	ErrSubjectNotFound = errors.New("subject not found in batch")
	ErrBuildInProgress = errors.New("batch is already being calculated")
)

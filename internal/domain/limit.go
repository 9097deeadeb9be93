// internal/domain/limit.go
package domain

// LimitUpdate is a controller request to change the in-flight limit of a class.
// Class takes every name ParseWorkerClass accepts.
type LimitUpdate struct {
	Class string `json:"class" validate:"required,oneof=normal cpu accelerated gpu opencl"`
	Limit int    `json:"limit" validate:"gte=0"`
}

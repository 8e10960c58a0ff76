package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

var ErrorDuplicateEvent = errors.New("duplicate event")

var ErrorTenantMismatch = errors.New("cannot access resource owned by other tenant")

var ErrorInvalidAPIKey = errors.New("invalid api key")

var ErrorSourceDisabled = errors.New("source is disabled")

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}

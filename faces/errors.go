package faces

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/rekognition"
)

func errorCode(err error) string {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code()
	}
	return ""
}

// IsRetryable tells transient service errors (throttling, 5xx, network) from fatal ones.
// Errors that do not come from the AWS SDK are treated as transient
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case rekognition.ErrCodeThrottlingException,
			rekognition.ErrCodeProvisionedThroughputExceededException,
			rekognition.ErrCodeInternalServerError:
			return true
		}
		return request.IsErrorRetryable(aerr) || request.IsErrorThrottle(aerr)
	}
	return true
}

func IsNotFound(err error) bool {
	return errorCode(err) == rekognition.ErrCodeResourceNotFoundException
}

func IsAlreadyExists(err error) bool {
	return errorCode(err) == rekognition.ErrCodeResourceAlreadyExistsException
}

func IsInvalidParameter(err error) bool {
	switch errorCode(err) {
	case rekognition.ErrCodeInvalidParameterException,
		rekognition.ErrCodeImageTooLargeException,
		rekognition.ErrCodeInvalidImageFormatException:
		return true
	}
	return false
}

// IsClientError reports errors caused by the request rather than the service
func IsClientError(err error) bool {
	return errors.Is(err, ErrNoFaceDetected) || IsNotFound(err) || IsAlreadyExists(err) || IsInvalidParameter(err)
}

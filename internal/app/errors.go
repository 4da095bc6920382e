package app

import "imagestudio/pkg/domain"

// Validation and auth failure messages surfaced verbatim to API clients.
const (
	MsgPromptRequired     = "Prompt is required and cannot be empty"
	MsgPromptTooLong      = "Prompt cannot exceed 2048 characters"
	MsgStepsRange         = "Steps must be between 1 and 8"
	MsgMaxNumSteps        = "Maximum number of steps is 20"
	MsgHeightRange        = "Height must be between 256 and 2048 pixels"
	MsgWidthRange         = "Width must be between 256 and 2048 pixels"
	MsgStrengthRange      = "Strength must be between 0 and 1"
	MsgGuidanceRange      = "Guidance must be between 0 and 10"
	MsgLucidStepsRange    = "Steps must be between 1 and 40"
	MsgLucidHeightRange   = "Height must be between 1 and 2500"
	MsgLucidWidthRange    = "Width must be between 1 and 2500"
	MsgSourceImageMissing = "Source image is required for image-to-image generation"
	MsgInpaintInputs      = "Both image and mask are required for inpainting"
	MsgImageURLRequired   = "Image URL is required"

	MsgCredentialsRequired = "Email and password are required"
	MsgUserNotFound        = "User not found"
	MsgInvalidPassword     = "Invalid password"
	MsgUserExists          = "User already exists"
	MsgImageNotFound       = "Image not found"
	MsgNotImageOwner       = "You do not have permission to access this image"
)

func badRequest(msg string) error {
	return domain.BadRequest(msg)
}

package learning

import (
	"errors"
	"fmt"
)

var ErrInsufficientExperience = errors.New("insufficient experience for replay")

type InsufficientExperienceError struct {
	Have int
	Want int
}

func (e *InsufficientExperienceError) Error() string {
	return fmt.Sprintf("%v: have %d, want %d", ErrInsufficientExperience, e.Have, e.Want)
}

func (e *InsufficientExperienceError) Unwrap() error {
	return ErrInsufficientExperience
}

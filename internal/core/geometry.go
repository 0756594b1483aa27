package core

import (
	"errors"
	"fmt"
)

// ErrInvalidAddress is returned when an LED address has a negative component.
var ErrInvalidAddress = errors.New("invalid led address")

// Point is an integer viewport coordinate.
type Point struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
}

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// LEDAddress identifies one physical LED. The zero value is strip 0, LED 0.
type LEDAddress struct {
	strip int
	index int
}

// NewLEDAddress validates and builds an address.
func NewLEDAddress(stripID, ledIndex int) (LEDAddress, error) {
	if stripID < 0 || ledIndex < 0 {
		return LEDAddress{}, fmt.Errorf("%w: strip=%d led=%d", ErrInvalidAddress, stripID, ledIndex)
	}
	return LEDAddress{strip: stripID, index: ledIndex}, nil
}

// MustLEDAddress is NewLEDAddress for literals known to be valid.
func MustLEDAddress(stripID, ledIndex int) LEDAddress {
	a, err := NewLEDAddress(stripID, ledIndex)
	if err != nil {
		panic(err)
	}
	return a
}

func (a LEDAddress) StripID() int { return a.strip }
func (a LEDAddress) Index() int   { return a.index }

func (a LEDAddress) String() string { return fmt.Sprintf("%d:%d", a.strip, a.index) }

// StripLayout places one strip on the viewport. Validation is the config layer's job.
type StripLayout struct {
	ID      int   `yaml:"id" json:"id"`
	Length  int   `yaml:"length" json:"length"`
	Start   Point `yaml:"start" json:"start"`
	End     Point `yaml:"end" json:"end"`
	Reverse bool  `yaml:"reverse" json:"reverse"`
}

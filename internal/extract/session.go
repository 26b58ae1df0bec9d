package extract

import (
	"context"
	"errors"
	"time"
)

var ErrNoElement = errors.New("no matching element")

// Query selects elements by CSS selector, optionally keeping only those whose
// rendered text contains HasText.
type Query struct {
	CSS     string
	HasText string
}

// Element is a handle to one rendered node. Find returns ErrNoElement when
// nothing under the element matches.
type Element interface {
	Attribute(name string) (string, bool, error)
	Text() (string, error)
	Find(q Query) (Element, error)
}

// Session is a ready page handle. The extraction code never opens or closes
// it; whoever acquired the session releases it.
type Session interface {
	Navigate(ctx context.Context, url string) error
	WaitForText(ctx context.Context, marker string, timeout time.Duration) bool
	FindAll(q Query) ([]Element, error)
	CurrentURL() string
}

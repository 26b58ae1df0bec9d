package extract

import (
	"context"
	"time"
)

type fakeElement struct {
	attrs    map[string]string
	text     string
	textErr  error
	children map[string]*fakeElement
	findErr  error
}

func (e *fakeElement) Attribute(name string) (string, bool, error) {
	v, ok := e.attrs[name]
	return v, ok, nil
}

func (e *fakeElement) Text() (string, error) {
	return e.text, e.textErr
}

func (e *fakeElement) Find(q Query) (Element, error) {
	if e.findErr != nil {
		return nil, e.findErr
	}
	child, ok := e.children[q.CSS]
	if !ok {
		return nil, ErrNoElement
	}
	return child, nil
}

type fakeSession struct {
	url   string
	cards map[string][]Element
	errs  map[string]error
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	s.url = url
	return nil
}

func (s *fakeSession) WaitForText(ctx context.Context, marker string, timeout time.Duration) bool {
	return true
}

func (s *fakeSession) FindAll(q Query) ([]Element, error) {
	if err := s.errs[q.CSS]; err != nil {
		return nil, err
	}
	return s.cards[q.CSS], nil
}

func (s *fakeSession) CurrentURL() string {
	return s.url
}

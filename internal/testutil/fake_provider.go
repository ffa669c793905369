package testutil

import (
	"context"

	core "github.com/bananapics/core/internal"
)

// FakeDispatcher is a configurable core.Dispatcher for testing.
type FakeDispatcher struct {
	DispatcherName string
	SubmitFn       func(ctx context.Context, req *core.GenerationRequest) (*core.SubmitResult, error)
	PredictionFn   func(ctx context.Context, upstreamJobID string) (*core.PredictionStatus, error)
	BalanceFn      func(ctx context.Context) (float64, error)
	PricingFn      func(ctx context.Context, modelID string, inputs map[string]string) (string, error)
}

func (f *FakeDispatcher) Name() string { return f.DispatcherName }

func (f *FakeDispatcher) Submit(ctx context.Context, req *core.GenerationRequest) (*core.SubmitResult, error) {
	if f.SubmitFn != nil {
		return f.SubmitFn(ctx, req)
	}
	return &core.SubmitResult{UpstreamJobID: "fake-job"}, nil
}

func (f *FakeDispatcher) GetPrediction(ctx context.Context, upstreamJobID string) (*core.PredictionStatus, error) {
	if f.PredictionFn != nil {
		return f.PredictionFn(ctx, upstreamJobID)
	}
	return &core.PredictionStatus{Status: core.StatusProcessing}, nil
}

func (f *FakeDispatcher) Balance(ctx context.Context) (float64, error) {
	if f.BalanceFn != nil {
		return f.BalanceFn(ctx)
	}
	return 100, nil
}

func (f *FakeDispatcher) ModelPricing(ctx context.Context, modelID string, inputs map[string]string) (string, error) {
	if f.PricingFn != nil {
		return f.PricingFn(ctx, modelID, inputs)
	}
	return "0.01", nil
}

// FakeChat is a configurable core.Chat for testing.
type FakeChat struct {
	SentMessages  []string
	SentPhotos    []string
	SentDocuments []string
	SentVideos    []string
	SentAnimations []string
	SentButtons   []string // "text|url" for the last send carrying a button, if any
	SendMessageFn func(ctx context.Context, chatID int64, text string) error
}

func (f *FakeChat) recordButton(buttonText, buttonURL string) {
	if buttonText == "" && buttonURL == "" {
		return
	}
	f.SentButtons = append(f.SentButtons, buttonText+"|"+buttonURL)
}

func (f *FakeChat) SendMessage(ctx context.Context, chatID int64, text string, buttonText, buttonURL string) error {
	f.SentMessages = append(f.SentMessages, text)
	f.recordButton(buttonText, buttonURL)
	if f.SendMessageFn != nil {
		return f.SendMessageFn(ctx, chatID, text)
	}
	return nil
}

func (f *FakeChat) SendPhoto(ctx context.Context, chatID int64, url string, caption string, buttonText, buttonURL string) error {
	f.SentPhotos = append(f.SentPhotos, url)
	f.recordButton(buttonText, buttonURL)
	return nil
}

func (f *FakeChat) SendDocument(ctx context.Context, chatID int64, url string, caption string, buttonText, buttonURL string) error {
	f.SentDocuments = append(f.SentDocuments, url)
	f.recordButton(buttonText, buttonURL)
	return nil
}

func (f *FakeChat) SendVideo(ctx context.Context, chatID int64, url string, caption string, buttonText, buttonURL string) error {
	f.SentVideos = append(f.SentVideos, url)
	f.recordButton(buttonText, buttonURL)
	return nil
}

func (f *FakeChat) SendAnimation(ctx context.Context, chatID int64, url string, caption string, buttonText, buttonURL string) error {
	f.SentAnimations = append(f.SentAnimations, url)
	f.recordButton(buttonText, buttonURL)
	return nil
}

func (f *FakeChat) EditMessageText(ctx context.Context, chatID int64, messageID int64, text string) error {
	return nil
}

func (f *FakeChat) DeleteMessage(ctx context.Context, chatID int64, messageID int64) error {
	return nil
}

package config

import (
	"errors"
	"testing"

	"github.com/mandivoice/mandivoice/pkg/provider/llm"
	llmmock "github.com/mandivoice/mandivoice/pkg/provider/llm/mock"
	"github.com/mandivoice/mandivoice/pkg/provider/stt"
	sttmock "github.com/mandivoice/mandivoice/pkg/provider/stt/mock"
)

func TestRegistry_CreateSTT(t *testing.T) {
	reg := NewRegistry()

	var gotEntry ProviderEntry
	reg.RegisterSTT("bhashini", func(e ProviderEntry) (stt.Provider, error) {
		gotEntry = e
		return &sttmock.Provider{}, nil
	})

	p, err := reg.CreateSTT(ProviderEntry{Name: "bhashini", BaseURL: "https://dhruva.example.in"})
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if p == nil {
		t.Fatal("CreateSTT returned nil provider")
	}
	if gotEntry.BaseURL != "https://dhruva.example.in" {
		t.Errorf("factory entry = %+v, want base url passed through", gotEntry)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	reg := NewRegistry()

	if _, err := reg.CreateLLM(ProviderEntry{Name: "mystery"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateTranslate(ProviderEntry{Name: "mystery"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateTTS(ProviderEntry{Name: "mystery"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_OverwriteKeepsLatest(t *testing.T) {
	reg := NewRegistry()

	reg.RegisterLLM("openai", func(ProviderEntry) (llm.Provider, error) {
		return nil, errors.New("old factory")
	})
	reg.RegisterLLM("openai", func(ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})

	if _, err := reg.CreateLLM(ProviderEntry{Name: "openai"}); err != nil {
		t.Errorf("CreateLLM = %v, want latest factory to win", err)
	}
}

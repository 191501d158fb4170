package main

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"
)

const (
	agentName   = "career pivot"
	agentUserID = "career-pivot"
)

// Analyzer submits a resume and a prompt to the generative model and returns
// the model's text.
type Analyzer interface {
	Submit(ctx context.Context, file []byte, prompt string) (string, error)
}

func GetAgent(apiKey, modelName, agentName string) (agent.Agent, error) {
	ctx := context.Background()
	model, err := gemini.NewModel(ctx, modelName, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model: %v", err)
	}

	customAgent, err := llmagent.New(llmagent.Config{
		Name:        agentName,
		Model:       model,
		Description: "Career pivot resume analysis and rewriting",
		Instruction: instruction(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %v", err)
	}

	return customAgent, err
}

type runFunc func(ctx context.Context, userID, sessionID string, msg *genai.Content, cfg agent.RunConfig) iter.Seq2[*session.Event, error]

// AgentAnalyzer runs every attempt in its own short-lived agent session.
type AgentAnalyzer struct {
	run      runFunc
	sessions session.Service
	appName  string
}

func NewAgentAnalyzer(apiKey, modelName string) (*AgentAnalyzer, error) {
	a, err := GetAgent(apiKey, modelName, agentName)
	if err != nil {
		return nil, err
	}

	inMemoryService := session.InMemoryService()
	r, err := runner.New(runner.Config{
		AppName:        a.Name(),
		Agent:          a,
		SessionService: inMemoryService,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	return &AgentAnalyzer{run: r.Run, sessions: inMemoryService, appName: a.Name()}, nil
}

func (a *AgentAnalyzer) Submit(ctx context.Context, file []byte, prompt string) (string, error) {
	msg := &genai.Content{
		Role:  "user",
		Parts: resumeParts(file, prompt),
	}
	return retry(ctx, 2, func() (string, error) {
		return a.attempt(ctx, msg)
	})
}

// attempt sends msg in a fresh session so a retry never sees the failed
// turn's history.
func (a *AgentAnalyzer) attempt(ctx context.Context, msg *genai.Content) (string, error) {
	created, err := a.sessions.Create(ctx, &session.CreateRequest{
		AppName:   a.appName,
		UserID:    agentUserID,
		SessionID: uuid.NewString(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create agent session: %w", err)
	}
	sess := created.Session
	defer func() {
		err := a.sessions.Delete(context.Background(), &session.DeleteRequest{
			AppName:   sess.AppName(),
			UserID:    sess.UserID(),
			SessionID: sess.ID(),
		})
		if err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID()).Msg("failed to delete agent session")
		}
	}()

	var output string
	for event, err := range a.run(ctx, sess.UserID(), sess.ID(), msg, agent.RunConfig{}) {
		if err != nil {
			return "", err
		}
		if event == nil || !event.IsFinalResponse() || event.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, part := range event.Content.Parts {
			if part != nil {
				sb.WriteString(part.Text)
			}
		}
		output = sb.String()
	}

	if strings.TrimSpace(output) == "" {
		return "", fmt.Errorf("empty agent response")
	}
	return output, nil
}

// resumeParts sends the PDF itself and, when extraction works, its text.
func resumeParts(file []byte, prompt string) []*genai.Part {
	parts := []*genai.Part{genai.NewPartFromBytes(file, "application/pdf")}

	text, err := extractPDFText(bytes.NewReader(file))
	switch {
	case err != nil:
		log.Debug().Err(err).Msg("pdf text extraction failed, sending file only")
	case strings.TrimSpace(text) != "":
		parts = append(parts, genai.NewPartFromText("Resume text:\n"+text))
	}

	return append(parts, genai.NewPartFromText(prompt))
}

// retry retries fn up to attempts times with linear backoff, giving up early
// when ctx is done.
func retry[T any](ctx context.Context, attempts int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for i := 0; i < attempts; i++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		wait := time.Duration(500*(i+1)) * time.Millisecond
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}
	return zero, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

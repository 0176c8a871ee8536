package openai

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/splitmate/receipt-splitter/internal/application/port"
	"github.com/splitmate/receipt-splitter/internal/domain/entity"
)

// Interpreter implements port.Interpreter on the chat completion API. It
// turns free-form "who ordered what" text into fractional shares, or into
// clarification questions when the text is not enough.
type Interpreter struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewInterpreter creates a chat-backed interpreter.
func NewInterpreter(apiKey, model string, temperature float32, logger *zap.Logger) *Interpreter {
	return &Interpreter{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		logger:      logger,
	}
}

// interpretedRound is the wire shape the language model is asked to produce.
type interpretedRound struct {
	Complete     bool     `json:"complete"`
	Participants []string `json:"participants"`
	Assignments  []struct {
		ItemIndex int `json:"item_index"`
		Shares    []struct {
			Participant string  `json:"participant"`
			Fraction    float64 `json:"fraction"`
		} `json:"shares"`
	} `json:"assignments"`
	Questions []string `json:"questions"`
}

// Interpret maps one round of assignment text to structured shares. A
// response the model itself marks incomplete, or that cannot be parsed,
// comes back as clarification questions rather than an error; the error
// return covers only transport failures.
func (in *Interpreter) Interpret(ctx context.Context, items []entity.Item, participants []string, text string) (*port.InterpretationResult, error) {
	in.logger.Debug("Interpreting assignment text",
		zap.Int("items", len(items)),
		zap.Int("known_participants", len(participants)))

	resp, err := in.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       in.model,
		Temperature: in.temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: interviewSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildInterviewPrompt(items, participants, text),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		in.logger.Error("OpenAI API call failed", zap.Error(err))
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	content := resp.Choices[0].Message.Content

	var round interpretedRound
	if err := json.Unmarshal([]byte(content), &round); err != nil {
		jsonStr := extractJSON(content)
		if jsonStr == "" || json.Unmarshal([]byte(jsonStr), &round) != nil {
			in.logger.Warn("Failed to parse interpreter response",
				zap.Error(err),
				zap.String("content", content))
			return &port.InterpretationResult{
				Questions: []string{"I could not understand that description. Please restate who ordered which items."},
			}, nil
		}
	}

	if !round.Complete || len(round.Questions) > 0 {
		questions := round.Questions
		if len(questions) == 0 {
			questions = []string{"Please clarify who ordered which items."}
		}
		in.logger.Info("Interpreter needs clarification", zap.Int("questions", len(questions)))
		return &port.InterpretationResult{Questions: questions}, nil
	}

	assignments := make([]entity.ItemAssignment, 0, len(round.Assignments))
	for _, raw := range round.Assignments {
		shares := make([]entity.AssignmentShare, 0, len(raw.Shares))
		for _, s := range raw.Shares {
			shares = append(shares, entity.AssignmentShare{
				Participant: s.Participant,
				Fraction:    decimal.NewFromFloat(s.Fraction),
			})
		}
		assignments = append(assignments, entity.ItemAssignment{
			ItemIndex: raw.ItemIndex,
			Shares:    shares,
		})
	}

	in.logger.Info("Assignments interpreted",
		zap.Int("participants", len(round.Participants)),
		zap.Int("assignments", len(assignments)))

	return &port.InterpretationResult{
		Participants: round.Participants,
		Assignments:  assignments,
	}, nil
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrock/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

// ModelType distinguishes foundation models from inference profiles.
type ModelType string

const (
	TypeFoundationModel  ModelType = "foundation_model"
	TypeInferenceProfile ModelType = "inference_profile"
)

// Status is the access state of a listed model.
type Status string

const (
	// StatusActive models answered a probe request.
	StatusActive Status = "ACTIVE"
	// StatusAvailable models were listed without probing.
	StatusAvailable Status = "AVAILABLE"
	// StatusUnknown models could not be probed conclusively.
	StatusUnknown Status = "UNKNOWN"
)

const (
	probePrompt    = "Hi"
	probeMaxTokens = 10
	systemProvider = "System Defined"
)

// Model is one entry of the model list.
type Model struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Provider string    `json:"provider"`
	Status   Status    `json:"status"`
	Type     ModelType `json:"type"`
	// Verified is true only when a probe request succeeded.
	Verified bool `json:"verified"`
}

// CatalogAPI is the subset of the Bedrock control plane client used for
// listing models.
type CatalogAPI interface {
	ListFoundationModels(ctx context.Context, params *bedrock.ListFoundationModelsInput, optFns ...func(*bedrock.Options)) (*bedrock.ListFoundationModelsOutput, error)
	ListInferenceProfiles(ctx context.Context, params *bedrock.ListInferenceProfilesInput, optFns ...func(*bedrock.Options)) (*bedrock.ListInferenceProfilesOutput, error)
}

// NewCatalog builds the Bedrock control plane client from cfg.
func NewCatalog(cfg aws.Config) CatalogAPI {
	return bedrock.NewFromConfig(cfg)
}

// ListOptions controls model listing.
type ListOptions struct {
	// SkipAccessVerification lists every text model without probing it.
	// Entries are then unverified and may not be invocable.
	SkipAccessVerification bool
}

// ListModels returns active inference profiles followed by on-demand text
// foundation models. Unless access verification is skipped, each candidate
// is probed and models denying access are left out. When nothing qualifies
// every text foundation model is listed unverified.
func (a *Adapter) ListModels(ctx context.Context, catalog CatalogAPI, opts ListOptions) ([]Model, error) {
	foundation, err := catalog.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{
		ByOutputModality: types.ModelModalityText,
		ByInferenceType:  types.InferenceTypeOnDemand,
	})
	if err != nil {
		return nil, fmt.Errorf("list foundation models: %w", Classify("", err))
	}

	profiles, err := listInferenceProfiles(ctx, catalog)
	if err != nil {
		log.Info().Err(err).Msg("inference profiles not available in this region or with current permissions")
	}

	var models []Model
	for _, p := range profiles {
		if p.Status != types.InferenceProfileStatusActive {
			continue
		}
		m := Model{
			ID:       aws.ToString(p.InferenceProfileId),
			Name:     aws.ToString(p.InferenceProfileName) + " (Inference Profile)",
			Provider: systemProvider,
			Type:     TypeInferenceProfile,
		}
		if entry, ok := a.verify(ctx, m, FamilyChat, opts); ok {
			models = append(models, entry)
		}
	}

	for _, s := range foundation.ModelSummaries {
		if !textModel(s) {
			continue
		}
		m := foundationModel(s)
		family := DetectFamily(m.ID)
		if !opts.SkipAccessVerification && !probeable(family) {
			m.Name += " - Access Not Verified"
			m.Status = StatusUnknown
			models = append(models, m)
			continue
		}
		if entry, ok := a.verify(ctx, m, family, opts); ok {
			models = append(models, entry)
		}
	}

	if len(models) > 0 {
		return models, nil
	}

	all, err := catalog.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return nil, fmt.Errorf("list foundation models: %w", Classify("", err))
	}
	for _, s := range all.ModelSummaries {
		if textModel(s) {
			m := foundationModel(s)
			m.Status = StatusAvailable
			models = append(models, m)
		}
	}
	return models, nil
}

// verify probes m unless verification is skipped. Models denying access
// or rejecting the probe are dropped; other provider errors keep the model
// with an unknown status.
func (a *Adapter) verify(ctx context.Context, m Model, family Family, opts ListOptions) (Model, bool) {
	if opts.SkipAccessVerification {
		m.Status = StatusAvailable
		return m, true
	}

	err := a.probe(ctx, family, m.ID)
	if err == nil {
		m.Status = StatusActive
		m.Verified = true
		return m, true
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		log.Debug().Err(err).Str("model", m.ID).Msg("skipping model after probe failure")
		return m, false
	}
	switch apiErr.ErrorCode() {
	case "AccessDeniedException", "UnauthorizedOperation", "ValidationException":
		return m, false
	}
	m.Name += " - Access Unknown"
	m.Status = StatusUnknown
	return m, true
}

func (a *Adapter) probe(ctx context.Context, family Family, modelID string) error {
	body, err := BuildBody(family, modelID, Prompt{User: probePrompt}, Params{MaxTokens: probeMaxTokens})
	if err != nil {
		return err
	}
	_, err = a.invoke(ctx, family, modelID, body)
	return err
}

func probeable(f Family) bool {
	switch f {
	case FamilyChat, FamilyTitan, FamilyJurassic, FamilyCohere:
		return true
	}
	return false
}

func listInferenceProfiles(ctx context.Context, catalog CatalogAPI) ([]types.InferenceProfileSummary, error) {
	var out []types.InferenceProfileSummary
	input := &bedrock.ListInferenceProfilesInput{}
	for {
		page, err := catalog.ListInferenceProfiles(ctx, input)
		if err != nil {
			return out, fmt.Errorf("list inference profiles: %w", err)
		}
		out = append(out, page.InferenceProfileSummaries...)
		if aws.ToString(page.NextToken) == "" {
			return out, nil
		}
		input.NextToken = page.NextToken
	}
}

func textModel(s types.FoundationModelSummary) bool {
	return slices.Contains(s.InputModalities, types.ModelModalityText) &&
		slices.Contains(s.OutputModalities, types.ModelModalityText)
}

func foundationModel(s types.FoundationModelSummary) Model {
	id := aws.ToString(s.ModelId)
	provider := aws.ToString(s.ProviderName)
	if provider == "" {
		provider = "Unknown"
	}
	return Model{
		ID:       id,
		Name:     fmt.Sprintf("%s (%s)", aws.ToString(s.ModelName), id),
		Provider: provider,
		Type:     TypeFoundationModel,
	}
}

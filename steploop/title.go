package steploop

import (
	"context"
	"strings"
	"time"

	"github.com/martinemde/conductor/modelrelay"
	"github.com/martinemde/conductor/store"
)

const defaultTitleInstructions = "Generate a short title, at most six words, summarizing the user's message. Respond with the title only, no quotes."

// TitleConfig enables fire-and-forget thread title generation. After the
// first response on an untitled thread completes, a separate model call
// produces a title. Its failure never surfaces to the caller.
type TitleConfig struct {
	Model        string
	Provider     string
	Instructions string

	// Resolve, when set, picks the title model dynamically per thread.
	Resolve func(ctx context.Context, thread store.Thread) (TitleSpec, error)

	// OnComplete observes the outcome. Primarily for tests; err is non-nil
	// when generation failed and the stored title was left unchanged.
	OnComplete func(threadID, title string, err error)

	// Timeout bounds the title call. Defaults to 30s.
	Timeout time.Duration
}

// TitleSpec is a resolved title-generation target.
type TitleSpec struct {
	Model        string
	Provider     string
	Instructions string
}

// maybeGenerateTitle fires title generation when this run delivered the
// first message to a thread whose title is empty. It is not awaited.
func (r *Runner) maybeGenerateTitle(ctx context.Context, thread *store.Thread, firstMessage bool, userText string) {
	cfg := r.cfg.Title
	if cfg == nil || r.cfg.Store == nil || thread == nil {
		return
	}
	if !firstMessage || thread.Title != "" || userText == "" {
		return
	}

	// The title call outlives the caller-visible run but still honors the
	// run's values-only context.
	bg := context.WithoutCancel(ctx)
	go r.generateTitle(bg, cfg, *thread, userText)
}

func (r *Runner) generateTitle(ctx context.Context, cfg *TitleConfig, thread store.Thread, userText string) {
	log := r.log.With().Str("thread_id", thread.ID).Logger()

	done := func(title string, err error) {
		if cfg.OnComplete != nil {
			cfg.OnComplete(thread.ID, title, err)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	spec := TitleSpec{Model: cfg.Model, Provider: cfg.Provider, Instructions: cfg.Instructions}
	if cfg.Resolve != nil {
		resolved, err := cfg.Resolve(ctx, thread)
		if err != nil {
			log.Warn().Err(err).Msg("title model resolution failed; keeping existing title")
			done("", err)
			return
		}
		spec = resolved
	}
	if spec.Model == "" {
		spec.Model = r.agent.Model
	}
	if spec.Provider == "" {
		spec.Provider = r.agent.Provider
	}
	if spec.Instructions == "" {
		spec.Instructions = defaultTitleInstructions
	}

	resp, err := r.cfg.Client.Complete(ctx, modelrelay.Request{
		Model:    spec.Model,
		Provider: spec.Provider,
		Messages: []modelrelay.Message{
			modelrelay.SystemMessage(spec.Instructions),
			modelrelay.UserMessage(userText),
		},
	})
	if err != nil {
		log.Warn().Err(err).Msg("title generation failed; keeping existing title")
		done("", err)
		return
	}

	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Text()), `"`))
	if title == "" {
		log.Warn().Msg("title generation returned empty text; keeping existing title")
		done("", nil)
		return
	}

	thread.Title = title
	if err := r.cfg.Store.SaveThread(ctx, &thread); err != nil {
		log.Warn().Err(err).Msg("saving generated title failed")
		done("", err)
		return
	}

	log.Debug().Str("title", title).Msg("thread title generated")
	done(title, nil)
}

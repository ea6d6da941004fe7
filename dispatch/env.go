package dispatch

import (
	"context"

	"github.com/troupelabs/troupe/errors"
	"github.com/troupelabs/troupe/prompt"
	"github.com/troupelabs/troupe/secrets"
	"github.com/troupelabs/troupe/store"
)

// Worker CLI environment contract. Workers read these names; changing them
// breaks every deployed worker.
const (
	BearerEnvVar    = "AGENT_OAUTH_TOKEN"
	BaseURLEnvVar   = "AGENT_BASE_URL"
	AuthTokenEnvVar = "AGENT_AUTH_TOKEN"
	ModelEnvVar     = "AGENT_MODEL"
)

// assignment is everything dispatchToWorker needs beyond the request.
type assignment struct {
	prompt    string
	env       map[string]string
	timeoutMs int64
}

// prepare resolves the bearer token and, for persona-backed requests, the
// materialized credential env, model-profile overrides, and the assembled
// prompt. Token absence is the only error that holds the queue.
func (d *Dispatcher) prepare(ctx context.Context, req *Request) (*assignment, error) {
	token, err := d.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	a := &assignment{
		prompt:    req.Prompt,
		env:       map[string]string{BearerEnvVar: token},
		timeoutMs: req.TimeoutMs,
	}

	if req.PersonaID != "" {
		persona, err := d.stores.Personas.Get(req.PersonaID)
		if err != nil {
			return nil, errors.Wrapf(err, "load persona %s", req.PersonaID)
		}
		tools, err := d.stores.Tools.ListForPersona(persona.ID)
		if err != nil {
			return nil, errors.Wrap(err, "load persona tools")
		}

		hints := d.materializeCredentials(persona.ID, a.env)
		if profile := persona.ParsedModelProfile(); profile != nil {
			applyModelProfile(a.env, profile)
		}

		a.prompt = prompt.Assemble(persona, tools, req.InputData, hints)
		if a.timeoutMs <= 0 {
			a.timeoutMs = persona.TimeoutMs
		}
	}

	if a.timeoutMs <= 0 {
		a.timeoutMs = d.cfg.DefaultTimeoutMs
	}
	return a, nil
}

// bearerToken resolves the provider token, falling back to the static one.
func (d *Dispatcher) bearerToken(ctx context.Context) (string, error) {
	if d.tokens != nil {
		token, err := d.tokens.AccessToken(ctx)
		if err == nil {
			return token, nil
		}
		if d.cfg.StaticToken != "" {
			d.log.Warnw("Token provider unavailable; using static token", "error", err)
			return d.cfg.StaticToken, nil
		}
		return "", errors.Wrap(errors.ErrNoToken, err.Error())
	}
	if d.cfg.StaticToken != "" {
		return d.cfg.StaticToken, nil
	}
	return "", errors.ErrNoToken
}

// materializeCredentials decrypts the persona's credentials into env and
// returns the base names for prompt hints. A credential that will not
// decrypt is skipped; the execution proceeds without it. Plaintext exists
// only inside env.
func (d *Dispatcher) materializeCredentials(personaID string, env map[string]string) []string {
	creds, err := d.stores.Credentials.ListForPersona(personaID)
	if err != nil {
		d.log.Warnw("Failed to load persona credentials", "persona_id", personaID, "error", err)
		return nil
	}
	if len(creds) == 0 {
		return nil
	}
	if !d.creds.Enabled() {
		d.log.Warnw("Master key not configured; persona credentials withheld",
			"persona_id", personaID, "credentials", len(creds))
		return nil
	}

	hints := make([]string, 0, len(creds))
	for _, cred := range creds {
		vars, err := d.creds.Materialize(cred.Connector, &secrets.Sealed{
			Ciphertext: cred.Ciphertext,
			IV:         cred.IV,
			AuthTag:    cred.AuthTag,
		})
		if err != nil {
			d.log.Errorw("Failed to materialize credential",
				"persona_id", personaID, "connector", cred.Connector, "error", err)
			continue
		}
		for k, v := range vars {
			env[k] = v
		}
		hints = append(hints, secrets.BaseKey(cred.Connector))
	}
	return hints
}

// applyModelProfile redirects the worker at an alternate model endpoint.
// Only the self-hosted providers override anything; the default bearer is
// removed so the worker cannot fall back to the hosted API.
func applyModelProfile(env map[string]string, profile *store.ModelProfile) {
	switch profile.Provider {
	case "ollama", "litellm", "custom":
	default:
		return
	}
	if profile.BaseURL != "" {
		env[BaseURLEnvVar] = profile.BaseURL
	}
	if profile.AuthToken != "" {
		env[AuthTokenEnvVar] = profile.AuthToken
	}
	if profile.Model != "" {
		env[ModelEnvVar] = profile.Model
	}
	delete(env, BearerEnvVar)
}

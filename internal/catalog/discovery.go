package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"llmstreambench/internal/logging"
)

// Source names where discovered models came from.
type Source string

const (
	SourceNone         Source = "none"
	SourceCloudFoundry Source = "cloud-foundry"
	SourceEnvironment  Source = "environment"
)

// VCAPService is one Cloud Foundry service binding.
type VCAPService struct {
	InstanceGUID string                 `json:"instance_guid"`
	InstanceName string                 `json:"instance_name"`
	Name         string                 `json:"name"`
	Plan         string                 `json:"plan"`
	Credentials  map[string]interface{} `json:"credentials"`
}

// VCAPServices is the part of VCAP_SERVICES we read.
type VCAPServices struct {
	GenAI []VCAPService `json:"genai"`
}

type serviceEndpoint struct {
	APIKey    string
	APIBase   string
	ConfigURL string
}

type advertisedModel struct {
	Name string `json:"name"`
}

type configResponse struct {
	AdvertisedModels []advertisedModel `json:"advertisedModels"`
}

// Discoverer finds models in the process environment: Cloud Foundry
// bindings first, then MODEL1_*/MODEL2_* and BASE_URL/API_KEY/MODELS.
type Discoverer struct {
	Getenv func(string) string
	Client *http.Client
	Logger *logging.Logger
}

// Discover returns the models of the first source that yields any.
func (d Discoverer) Discover(ctx context.Context) ([]Model, Source) {
	getenv := d.getenv()
	log := logging.OrDiscard(d.Logger)

	if raw := getenv("VCAP_SERVICES"); raw != "" {
		models, err := d.FromVCAP(ctx, raw)
		if err != nil {
			log.Warn("Failed to discover VCAP_SERVICES: %v", err)
		} else if len(models) > 0 {
			return models, SourceCloudFoundry
		}
	}
	if models := d.FromEnvironment(); len(models) > 0 {
		return models, SourceEnvironment
	}
	return nil, SourceNone
}

func (d Discoverer) getenv() func(string) string {
	if d.Getenv != nil {
		return d.Getenv
	}
	return os.Getenv
}

// FromEnvironment reads MODEL1_*/MODEL2_* variables, falling back to the
// generic BASE_URL/API_KEY/API_VERSION/MODELS set.
func (d Discoverer) FromEnvironment() []Model {
	getenv := d.getenv()
	log := logging.OrDiscard(d.Logger)

	var models []Model
	for _, prefix := range []string{"MODEL1_", "MODEL2_"} {
		name := getenv(prefix + "NAME")
		base := getenv(prefix + "BASE_URL")
		if name == "" || base == "" {
			continue
		}
		if !isValidURL(base) {
			log.Warn("Invalid %sBASE_URL: %s", prefix, base)
			continue
		}
		if getenv(prefix+"API_KEY") == "" {
			log.Warn("%sAPI_KEY not set for model %s", prefix, name)
		}
		models = append(models, Model{
			Name:       name,
			Endpoint:   base,
			APIKey:     getenv(prefix + "API_KEY"),
			APIVersion: firstNonEmpty(getenv(prefix+"API_VERSION"), getenv("API_VERSION"), DefaultAPIVersion),
		})
	}
	if len(models) > 0 {
		return models
	}

	base, key, names := getenv("BASE_URL"), getenv("API_KEY"), getenv("MODELS")
	if base == "" || names == "" {
		return nil
	}
	if !isValidURL(base) {
		log.Warn("Invalid BASE_URL: %s", base)
		return nil
	}
	if key == "" {
		log.Warn("API_KEY not set for generic configuration")
	}
	version := firstNonEmpty(getenv("API_VERSION"), DefaultAPIVersion)
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		models = append(models, Model{Name: name, Endpoint: base, APIKey: key, APIVersion: version})
	}
	return models
}

// FromVCAP parses a VCAP_SERVICES document. Multi-model bindings are
// expanded by fetching their advertised models from config_url.
func (d Discoverer) FromVCAP(ctx context.Context, raw string) ([]Model, error) {
	var services VCAPServices
	if err := json.Unmarshal([]byte(raw), &services); err != nil {
		return nil, fmt.Errorf("failed to parse VCAP_SERVICES: %w", err)
	}
	log := logging.OrDiscard(d.Logger)
	version := firstNonEmpty(d.getenv()("API_VERSION"), DefaultAPIVersion)

	var models []Model
	for _, svc := range services.GenAI {
		name := firstNonEmpty(svc.InstanceName, svc.Name)
		if svc.Credentials == nil {
			log.WarnWithFields("Service has no credentials, skipping", logging.Fields{"serviceName": name})
			continue
		}

		endpoint, hasEndpoint := parseServiceEndpoint(svc.Credentials)
		modelName, _ := svc.Credentials["model_name"].(string)

		switch {
		case hasEndpoint && endpoint.ConfigURL != "" && modelName == "":
			if endpoint.APIKey == "" {
				log.WarnWithFields("Multi-model service has no API key", logging.Fields{"serviceName": name})
				continue
			}
			advertised, err := d.fetchAdvertised(ctx, endpoint.ConfigURL, endpoint.APIKey)
			if err != nil {
				log.WarnWithFields("Failed to fetch models for service", logging.Fields{
					"serviceName": name,
					"error":       err,
				})
				continue
			}
			for _, m := range advertised {
				models = append(models, Model{Name: m.Name, Endpoint: endpoint.APIBase, APIKey: endpoint.APIKey, APIVersion: version})
			}
		case hasEndpoint && modelName != "":
			base, _ := svc.Credentials["api_base"].(string)
			models = append(models, Model{
				Name:       modelName,
				Endpoint:   firstNonEmpty(base, endpoint.APIBase),
				APIKey:     endpoint.APIKey,
				APIVersion: version,
			})
		default:
			key, base, names := parseLegacyCredentials(svc.Credentials)
			for _, n := range names {
				models = append(models, Model{Name: n, Endpoint: base, APIKey: key, APIVersion: version})
			}
		}
		log.InfoWithFields("Discovered service", logging.Fields{
			"serviceName": name,
			"plan":        firstNonEmpty(svc.Plan, "unknown"),
		})
	}
	return models, nil
}

func (d Discoverer) fetchAdvertised(ctx context.Context, configURL, apiKey string) ([]advertisedModel, error) {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, configURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("config URL returned status %d", resp.StatusCode)
	}
	var cfg configResponse
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config response: %w", err)
	}
	return cfg.AdvertisedModels, nil
}

func parseServiceEndpoint(credentials map[string]interface{}) (serviceEndpoint, bool) {
	m, ok := credentials["endpoint"].(map[string]interface{})
	if !ok {
		return serviceEndpoint{}, false
	}
	var ep serviceEndpoint
	ep.APIKey, _ = m["api_key"].(string)
	ep.APIBase, _ = m["api_base"].(string)
	ep.ConfigURL, _ = m["config_url"].(string)
	return ep, true
}

// parseLegacyCredentials reads api_key, api_base (or base_url), model_name
// and model_aliases.
func parseLegacyCredentials(credentials map[string]interface{}) (string, string, []string) {
	key, _ := credentials["api_key"].(string)
	base, _ := credentials["api_base"].(string)
	if base == "" {
		base, _ = credentials["base_url"].(string)
	}

	var names []string
	seen := map[string]bool{}
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	if n, ok := credentials["model_name"].(string); ok {
		add(n)
	}
	if aliases, ok := credentials["model_aliases"].([]interface{}); ok {
		for _, a := range aliases {
			if s, ok := a.(string); ok {
				add(s)
			}
		}
	}
	return key, base, names
}

func isValidURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

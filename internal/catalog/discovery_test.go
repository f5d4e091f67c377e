package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func envFrom(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

const legacyVCAP = `{
	"genai": [
		{
			"instance_guid": "87654321-4321-4321-4321-cba987654321",
			"instance_name": "legacy-openai-service",
			"name": "openai-service",
			"plan": "standard",
			"credentials": {
				"api_key": "sk-test-legacy-key",
				"api_base": "https://api.openai.com/v1",
				"model_name": "gpt-4",
				"model_aliases": ["gpt-4-turbo", "gpt-4", "gpt-4o"]
			}
		}
	]
}`

const singleModelVCAP = `{
	"genai": [
		{
			"instance_name": "single",
			"credentials": {
				"api_base": "https://top-level.example.com/openai",
				"model_name": "llama3",
				"endpoint": {
					"api_key": "sk-single",
					"api_base": "https://endpoint.example.com",
					"config_url": "https://config.example.com"
				}
			}
		},
		{
			"instance_name": "no-credentials"
		}
	]
}`

func TestDiscoverer_Model1Config(t *testing.T) {
	d := Discoverer{Getenv: envFrom(map[string]string{
		"MODEL1_NAME":     "gpt-4",
		"MODEL1_BASE_URL": "https://api.openai.com/v1",
		"MODEL1_API_KEY":  "sk-test-key",
		"API_VERSION":     "2024-10-21",
	})}

	models, source := d.Discover(context.Background())
	if source != SourceEnvironment {
		t.Fatalf("Expected source 'environment', got '%s'", source)
	}
	if len(models) != 1 {
		t.Fatalf("Expected 1 model, got %d", len(models))
	}
	if models[0].Name != "gpt-4" {
		t.Errorf("Expected model name 'gpt-4', got '%s'", models[0].Name)
	}
	if models[0].APIKey != "sk-test-key" {
		t.Errorf("Expected API key 'sk-test-key', got '%s'", models[0].APIKey)
	}
	if models[0].APIVersion != "2024-10-21" {
		t.Errorf("Expected API version '2024-10-21', got '%s'", models[0].APIVersion)
	}
}

func TestDiscoverer_GenericConfig(t *testing.T) {
	d := Discoverer{Getenv: envFrom(map[string]string{
		"BASE_URL": "https://my-resource.openai.azure.com",
		"API_KEY":  "k",
		"MODELS":   "gpt-4o, ,gpt-5-mini",
	})}

	models := d.FromEnvironment()
	if len(models) != 2 {
		t.Fatalf("Expected 2 models, got %d", len(models))
	}
	if models[1].Name != "gpt-5-mini" {
		t.Errorf("Expected second model 'gpt-5-mini', got '%s'", models[1].Name)
	}
	if models[0].APIVersion != DefaultAPIVersion {
		t.Errorf("Expected default API version, got '%s'", models[0].APIVersion)
	}
}

func TestDiscoverer_InvalidBaseURL(t *testing.T) {
	d := Discoverer{Getenv: envFrom(map[string]string{
		"BASE_URL": "not a url",
		"MODELS":   "gpt-4o",
	})}

	if models := d.FromEnvironment(); len(models) != 0 {
		t.Errorf("Expected no models for invalid BASE_URL, got %d", len(models))
	}
}

func TestDiscoverer_LegacyVCAP(t *testing.T) {
	d := Discoverer{Getenv: envFrom(map[string]string{"VCAP_SERVICES": legacyVCAP})}

	models, source := d.Discover(context.Background())
	if source != SourceCloudFoundry {
		t.Fatalf("Expected source 'cloud-foundry', got '%s'", source)
	}
	if len(models) != 3 {
		t.Fatalf("Expected 3 models (duplicate alias dropped), got %d", len(models))
	}
	if models[2].Name != "gpt-4o" {
		t.Errorf("Expected third model 'gpt-4o', got '%s'", models[2].Name)
	}
	if models[0].Endpoint != "https://api.openai.com/v1" {
		t.Errorf("Expected endpoint from api_base, got '%s'", models[0].Endpoint)
	}
}

func TestDiscoverer_SingleModelVCAP(t *testing.T) {
	d := Discoverer{}

	models, err := d.FromVCAP(context.Background(), singleModelVCAP)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("Expected 1 model, got %d", len(models))
	}
	if models[0].Endpoint != "https://top-level.example.com/openai" {
		t.Errorf("Expected top-level api_base, got '%s'", models[0].Endpoint)
	}
	if models[0].APIKey != "sk-single" {
		t.Errorf("Expected endpoint API key, got '%s'", models[0].APIKey)
	}
}

func TestDiscoverer_MultiModelVCAPFetchesConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-multi" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"advertisedModels":[{"name":"gpt-oss"},{"name":"qwen3"}]}`)
	}))
	defer srv.Close()

	vcap := fmt.Sprintf(`{"genai":[{"instance_name":"multi","plan":"multi","credentials":{
		"endpoint":{"api_key":"sk-multi","api_base":"https://api.example.com/v1","config_url":%q}}}]}`, srv.URL)

	models, err := Discoverer{Client: srv.Client()}.FromVCAP(context.Background(), vcap)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("Expected 2 models, got %d", len(models))
	}
	if models[1].Name != "qwen3" || models[1].Endpoint != "https://api.example.com/v1" {
		t.Errorf("Unexpected model: %+v", models[1])
	}
}

func TestDiscoverer_MalformedVCAPFallsBackToEnvironment(t *testing.T) {
	d := Discoverer{Getenv: envFrom(map[string]string{
		"VCAP_SERVICES": `{"genai": [`,
		"BASE_URL":      "https://api.openai.com/v1",
		"MODELS":        "gpt-4o",
	})}

	models, source := d.Discover(context.Background())
	if source != SourceEnvironment {
		t.Fatalf("Expected fallback to environment, got '%s'", source)
	}
	if len(models) != 1 {
		t.Fatalf("Expected 1 model, got %d", len(models))
	}
}

func TestDiscoverer_NothingConfigured(t *testing.T) {
	models, source := Discoverer{Getenv: envFrom(nil)}.Discover(context.Background())
	if source != SourceNone || len(models) != 0 {
		t.Errorf("Expected no models from empty environment, got %d from %s", len(models), source)
	}
}

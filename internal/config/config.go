package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
)

// Config is an immutable runtime snapshot. Build one via Defaults +
// LoadBootstrap + ApplyRuntimeFile + ApplySecretsFile, then hand it to a
// Store. Never mutate a Config that has been published.
type Config struct {
	// MQTT
	MQTTHost           string `yaml:"mqtt_host"`
	MQTTPort           int    `yaml:"mqtt_port"`
	MQTTUser           string `yaml:"mqtt_user"`
	MQTTPass           string `yaml:"-"`
	MQTTTopicSubscribe string `yaml:"mqtt_topic_subscribe"`
	MQTTTopicPublish   string `yaml:"mqtt_topic_publish"`

	// NVR
	FrigateAPI string `yaml:"frigate_api"`

	// Agent webhook (analysis + delivery)
	AnalysisWebhook         string `yaml:"analysis_webhook"`
	DeliveryWebhook         string `yaml:"delivery_webhook"`
	AgentToken              string `yaml:"-"`
	AnalysisAgentName       string `yaml:"analysis_agent_name"`
	DeliveryAgentName       string `yaml:"delivery_agent_name"`
	AnalysisModel           string `yaml:"analysis_model"`
	AnalysisModelFallback   string `yaml:"analysis_model_fallback"`
	AnalysisWebhookFallback string `yaml:"analysis_webhook_fallback"`
	AgentsRoot              string `yaml:"agents_root"`

	// Direct VLM
	OllamaAPI   string `yaml:"ollama_api"`
	OllamaModel string `yaml:"ollama_model"`

	// Delivery
	Recipients      []string `yaml:"recipients"`
	DeliveryEnabled bool     `yaml:"delivery_enabled"`
	DeliveryMinRisk string   `yaml:"delivery_min_risk"`

	// Home automation
	HAURL            string              `yaml:"ha_url"`
	HAToken          string              `yaml:"-"`
	HomeModeEntity   string              `yaml:"ha_home_mode_entity"`
	KnownFacesEntity string              `yaml:"ha_known_faces_entity"`
	ExcludeKnownFaces bool               `yaml:"exclude_known_faces"`
	AlarmEntity      string              `yaml:"alarm_entity"`
	SpeakerTargets   []string            `yaml:"speaker_targets"`
	CameraLights     map[string][]string `yaml:"camera_zone_lights"`
	DefaultLights    []string            `yaml:"camera_zone_lights_default"`

	// Policy
	CameraContextNotes map[string]string `yaml:"camera_context_notes"`
	CameraZones        map[string]string `yaml:"camera_policy_zones"`
	DefaultZone        string            `yaml:"camera_policy_zone_default"`
	CooldownSeconds    int               `yaml:"cooldown_seconds"`
	QuietHoursStart    int               `yaml:"quiet_hours_start"`
	QuietHoursEnd      int               `yaml:"quiet_hours_end"`

	RecentEventsWindowSeconds int `yaml:"recent_events_window_seconds"`

	// Event history (memory)
	HistoryFile          string `yaml:"event_history_file"`
	HistoryWindowSeconds int    `yaml:"event_history_window_seconds"`
	HistoryMaxLines      int    `yaml:"event_history_max_lines"`

	// Confirmation (second pass)
	ConfirmEnabled        bool     `yaml:"confirm_enabled"`
	ConfirmDelaySeconds   int      `yaml:"confirm_delay_seconds"`
	ConfirmTimeoutSeconds int      `yaml:"confirm_timeout_seconds"`
	ConfirmRisks          []string `yaml:"confirm_risks"`

	// Phase flags
	PolicyEnabled  bool `yaml:"phase3_enabled"`
	MemoryEnabled  bool `yaml:"phase4_enabled"`
	SummaryEnabled bool `yaml:"phase8_enabled"`

	// Storage
	SnapshotDir   string `yaml:"snapshot_dir"`
	ClipDir       string `yaml:"clip_dir"`
	WorkspaceDir  string `yaml:"workspace_dir"`
	MediaRelSnaps string `yaml:"media_rel_snapshots"`
	MediaRelClips string `yaml:"media_rel_clips"`

	// Diagnostics / internal bus
	DiagListenAddr string `yaml:"diag_listen_addr"`
	NATSEnabled    bool   `yaml:"nats_enabled"`
	NATSURL        string `yaml:"nats_url"`
	NATSSubject    string `yaml:"nats_subject"`

	// File locations for the runtime overlay itself
	RuntimeFile string `yaml:"runtime_file"`
	SecretsFile string `yaml:"secrets_file"`
}

// Defaults returns the built-in configuration. Values mirror the deployed
// bridge; everything here can be overridden by the bootstrap YAML or the
// runtime JSON file.
func Defaults() *Config {
	return &Config{
		MQTTHost:           "localhost",
		MQTTPort:           1883,
		MQTTTopicSubscribe: "frigate/events",
		MQTTTopicPublish:   "openclaw/frigate/analysis",

		FrigateAPI: "http://localhost:5000",

		AnalysisWebhook:         "http://localhost:18789/hooks/agent",
		DeliveryWebhook:         "http://localhost:18789/hooks/agent",
		AnalysisAgentName:       "main",
		DeliveryAgentName:       "main",
		AnalysisModel:           "litellm/qwen2.5vl:7b",
		AnalysisModelFallback:   "openai/gpt-4o-mini",
		AnalysisWebhookFallback: "http://localhost:18789/hooks/agent",
		AgentsRoot:              defaultUnder(".openclaw", "agents"),

		OllamaAPI:   "http://localhost:11434",
		OllamaModel: "qwen2.5vl:7b",

		DeliveryEnabled: true,
		DeliveryMinRisk: "medium",

		HomeModeEntity:   "input_select.home_mode",
		KnownFacesEntity: "binary_sensor.known_faces_present",
		AlarmEntity:      "switch.security_siren",

		DefaultLights: []string{"light.garage"},
		DefaultZone:   "entry",

		CooldownSeconds: 30,
		QuietHoursStart: 23,
		QuietHoursEnd:   6,

		RecentEventsWindowSeconds: 600,

		HistoryFile:          defaultUnder("frigate", "storage", "events-history.jsonl"),
		HistoryWindowSeconds: 1800,
		HistoryMaxLines:      5000,

		ConfirmEnabled:        true,
		ConfirmDelaySeconds:   4,
		ConfirmTimeoutSeconds: 90,
		ConfirmRisks:          []string{"high", "critical"},

		PolicyEnabled:  true,
		MemoryEnabled:  true,
		SummaryEnabled: true,

		SnapshotDir:   defaultUnder("frigate", "storage", "ai-snapshots"),
		ClipDir:       defaultUnder("frigate", "storage", "ai-clips"),
		WorkspaceDir:  defaultUnder(".openclaw", "workspace"),
		MediaRelSnaps: "./frigate/storage/ai-snapshots",
		MediaRelClips: "./frigate/storage/ai-clips",

		DiagListenAddr: ":9190",
		NATSSubject:    "sentinel.analysis",

		RuntimeFile: defaultUnder("frigate", "bridge-runtime-config.json"),
		SecretsFile: defaultUnder("frigate", ".secrets.env"),
	}
}

func defaultUnder(parts ...string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return home + "/" + strings.Join(parts, "/")
}

// LightsFor returns the light entities for a camera, or the default set.
func (c *Config) LightsFor(camera string) []string {
	if ents, ok := c.CameraLights[camera]; ok && len(ents) > 0 {
		return ents
	}
	return c.DefaultLights
}

// ContextNoteFor returns the per-camera context note for prompts.
func (c *Config) ContextNoteFor(camera string) string {
	if note, ok := c.CameraContextNotes[camera]; ok && note != "" {
		return note
	}
	return "unspecified"
}

// ZoneFor returns the policy zone for a camera, or the default zone.
func (c *Config) ZoneFor(camera string) string {
	if zone, ok := c.CameraZones[camera]; ok && zone != "" {
		return zone
	}
	return c.DefaultZone
}

// SessionsDir is where the agent persists per-session transcripts.
func (c *Config) SessionsDir() string {
	return c.AgentsRoot + "/" + c.AnalysisAgentName + "/sessions"
}

// SessionsIndex maps lowercased session keys to session ids.
func (c *Config) SessionsIndex() string {
	return c.SessionsDir() + "/sessions.json"
}

// StagedMediaDir is the workspace subtree the VLM can open by relative path.
func (c *Config) StagedMediaDir() string {
	return c.WorkspaceDir + "/ai-snapshots"
}

// Clone returns a deep copy safe to mutate before re-publishing.
func (c *Config) Clone() *Config {
	out := *c
	out.Recipients = append([]string(nil), c.Recipients...)
	out.SpeakerTargets = append([]string(nil), c.SpeakerTargets...)
	out.DefaultLights = append([]string(nil), c.DefaultLights...)
	out.ConfirmRisks = append([]string(nil), c.ConfirmRisks...)
	out.CameraLights = make(map[string][]string, len(c.CameraLights))
	for k, v := range c.CameraLights {
		out.CameraLights[k] = append([]string(nil), v...)
	}
	out.CameraContextNotes = make(map[string]string, len(c.CameraContextNotes))
	for k, v := range c.CameraContextNotes {
		out.CameraContextNotes[k] = v
	}
	out.CameraZones = make(map[string]string, len(c.CameraZones))
	for k, v := range c.CameraZones {
		out.CameraZones[k] = v
	}
	return &out
}

// looksMaskedSecret detects the display-only placeholder the control UI
// writes back for secrets. A masked value must never replace a live one.
func looksMaskedSecret(v string) bool {
	return strings.HasPrefix(strings.TrimSpace(v), "********")
}

// ApplyRuntimeFile layers the runtime JSON overrides onto cfg in place.
// A missing file is not an error; a malformed file leaves cfg untouched.
func ApplyRuntimeFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read runtime config: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("parse runtime config %s: %w", path, err)
	}

	cfg.MQTTHost = getStr(m, "mqtt_host", cfg.MQTTHost)
	cfg.MQTTPort = getInt(m, "mqtt_port", cfg.MQTTPort)
	cfg.MQTTUser = getStr(m, "mqtt_user", cfg.MQTTUser)
	if v, ok := m["mqtt_pass"]; ok {
		if s := asString(v); !looksMaskedSecret(s) {
			cfg.MQTTPass = s
		}
	}
	cfg.MQTTTopicSubscribe = getStr(m, "mqtt_topic_subscribe", cfg.MQTTTopicSubscribe)
	cfg.MQTTTopicPublish = getStr(m, "mqtt_topic_publish", cfg.MQTTTopicPublish)
	cfg.FrigateAPI = getStr(m, "frigate_api", cfg.FrigateAPI)

	cfg.AnalysisWebhook = getStr(m, "openclaw_analysis_webhook", cfg.AnalysisWebhook)
	cfg.DeliveryWebhook = getStr(m, "openclaw_delivery_webhook", cfg.DeliveryWebhook)
	if v, ok := m["openclaw_token"]; ok {
		if s := asString(v); !looksMaskedSecret(s) {
			cfg.AgentToken = s
		}
	}
	cfg.AnalysisAgentName = getStr(m, "openclaw_analysis_agent_name", cfg.AnalysisAgentName)
	cfg.DeliveryAgentName = getStr(m, "openclaw_delivery_agent_name", cfg.DeliveryAgentName)
	cfg.AnalysisModel = getStr(m, "openclaw_analysis_model", cfg.AnalysisModel)
	cfg.AnalysisModelFallback = getStr(m, "openclaw_analysis_model_fallback", cfg.AnalysisModelFallback)
	cfg.AnalysisWebhookFallback = getStr(m, "openclaw_analysis_webhook_fallback", cfg.AnalysisWebhookFallback)
	cfg.OllamaAPI = getStr(m, "ollama_api", cfg.OllamaAPI)
	cfg.OllamaModel = getStr(m, "ollama_model", cfg.OllamaModel)

	if lst := getStrList(m, "whatsapp_to"); len(lst) > 0 {
		cfg.Recipients = lst
	}
	cfg.DeliveryEnabled = getBool(m, "whatsapp_enabled", cfg.DeliveryEnabled)
	cfg.DeliveryMinRisk = getStr(m, "whatsapp_min_risk_level", cfg.DeliveryMinRisk)
	cfg.CooldownSeconds = getInt(m, "cooldown_seconds", cfg.CooldownSeconds)

	cfg.HAURL = getStr(m, "ha_url", cfg.HAURL)
	if v, ok := m["ha_token"]; ok {
		if s := asString(v); !looksMaskedSecret(s) {
			cfg.HAToken = s
		}
	}
	if lights := getStrListMap(m, "camera_zone_lights"); len(lights) > 0 {
		cfg.CameraLights = lights
	}
	if lst := getStrList(m, "camera_zone_lights_default"); len(lst) > 0 {
		cfg.DefaultLights = lst
	}
	cfg.AlarmEntity = getStr(m, "alarm_entity", cfg.AlarmEntity)
	if lst := getStrList(m, "speaker_targets"); len(lst) > 0 {
		cfg.SpeakerTargets = lst
	}
	cfg.QuietHoursStart = getInt(m, "quiet_hours_start", cfg.QuietHoursStart)
	cfg.QuietHoursEnd = getInt(m, "quiet_hours_end", cfg.QuietHoursEnd)

	cfg.HomeModeEntity = getStr(m, "ha_home_mode_entity", cfg.HomeModeEntity)
	cfg.KnownFacesEntity = getStr(m, "ha_known_faces_entity", cfg.KnownFacesEntity)
	cfg.ExcludeKnownFaces = getBool(m, "exclude_known_faces", cfg.ExcludeKnownFaces)
	if notes := getStrMap(m, "camera_context_notes"); len(notes) > 0 {
		cfg.CameraContextNotes = notes
	}
	if zones := getStrMap(m, "camera_policy_zones"); len(zones) > 0 {
		cfg.CameraZones = zones
	}
	cfg.DefaultZone = getStr(m, "camera_policy_zone_default", cfg.DefaultZone)
	cfg.RecentEventsWindowSeconds = getInt(m, "recent_events_window_seconds", cfg.RecentEventsWindowSeconds)

	cfg.HistoryFile = getStr(m, "event_history_file", cfg.HistoryFile)
	cfg.HistoryWindowSeconds = getInt(m, "event_history_window_seconds", cfg.HistoryWindowSeconds)
	cfg.HistoryMaxLines = getInt(m, "event_history_max_lines", cfg.HistoryMaxLines)

	cfg.PolicyEnabled = getBool(m, "phase3_enabled", cfg.PolicyEnabled)
	cfg.MemoryEnabled = getBool(m, "phase4_enabled", cfg.MemoryEnabled)
	cfg.ConfirmEnabled = getBool(m, "phase5_enabled", cfg.ConfirmEnabled)
	cfg.SummaryEnabled = getBool(m, "phase8_enabled", cfg.SummaryEnabled)
	cfg.ConfirmDelaySeconds = getInt(m, "phase5_confirm_delay_seconds", cfg.ConfirmDelaySeconds)
	cfg.ConfirmTimeoutSeconds = getInt(m, "phase5_confirm_timeout_seconds", cfg.ConfirmTimeoutSeconds)
	if risks := getStrList(m, "phase5_confirm_risks"); len(risks) > 0 {
		for i, r := range risks {
			risks[i] = strings.ToLower(r)
		}
		cfg.ConfirmRisks = risks
	}

	log.Printf("Config: loaded runtime overrides from %s", path)
	return nil
}

// ApplySecretsFile reads KEY=VALUE overrides from the secrets sidecar.
// Recognized keys: FRIGATE_MQTT_PASS, OPENCLAW_TOKEN, HA_TOKEN.
func ApplySecretsFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read secrets file: %w", err)
	}

	for _, ln := range strings.Split(string(raw), "\n") {
		s := strings.TrimSpace(ln)
		if s == "" || strings.HasPrefix(s, "#") || !strings.Contains(s, "=") {
			continue
		}
		k, v, _ := strings.Cut(s, "=")
		key := strings.TrimSpace(k)
		val := strings.Trim(strings.TrimSpace(v), `'"`)
		if val == "" {
			continue
		}
		switch key {
		case "FRIGATE_MQTT_PASS":
			cfg.MQTTPass = val
		case "OPENCLAW_TOKEN":
			cfg.AgentToken = val
		case "HA_TOKEN":
			cfg.HAToken = val
		}
	}
	return nil
}

// Load builds the full runtime snapshot: defaults, bootstrap YAML,
// runtime JSON overlay, secrets sidecar. Only a broken bootstrap file is a
// hard error; the overlays degrade to defaults with a warning.
func Load(bootstrapPath string) (*Config, error) {
	cfg := Defaults()
	if bootstrapPath != "" {
		if err := loadBootstrap(cfg, bootstrapPath); err != nil {
			return nil, err
		}
	}
	if err := ApplyRuntimeFile(cfg, cfg.RuntimeFile); err != nil {
		log.Printf("[WARN] Config: %v — continuing with defaults", err)
	}
	if err := ApplySecretsFile(cfg, cfg.SecretsFile); err != nil {
		log.Printf("[WARN] Config: %v", err)
	}
	return cfg, nil
}

func getStr(m map[string]any, key, def string) string {
	if v, ok := m[key]; ok {
		if s := asString(v); s != "" {
			return s
		}
	}
	return def
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

func getInt(m map[string]any, key string, def int) int {
	v, ok := m[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return def
}

func getBool(m map[string]any, key string, def bool) bool {
	v, ok := m[key]
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if p, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
			return p
		}
	case float64:
		return b != 0
	}
	return def
}

func getStrList(m map[string]any, key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s := asString(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getStrMap(m map[string]any, key string) map[string]string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, val := range obj {
		out[k] = asString(val)
	}
	return out
}

func getStrListMap(m map[string]any, key string) map[string][]string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string][]string, len(obj))
	for k, val := range obj {
		items, ok := val.([]any)
		if !ok {
			continue
		}
		var lst []string
		for _, it := range items {
			if s := asString(it); s != "" {
				lst = append(lst, s)
			}
		}
		if len(lst) > 0 {
			out[k] = lst
		}
	}
	return out
}

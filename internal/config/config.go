package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Keymap maps a key string such as "ctrl+t" to an action name.
type Keymap map[string]string

type BackendOptions struct {
	URL          string            `toml:"url"`
	TokenizePath string            `toml:"tokenize-path"`
	PredictPath  string            `toml:"predict-path"`
	ModelsPath   string            `toml:"models-path"`
	StatusPath   string            `toml:"status-path"`
	Timeout      string            `toml:"timeout"`
	Headers      map[string]string `toml:"headers"`
}

// TimeoutDuration parses Timeout, falling back to 60s.
func (b BackendOptions) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(b.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

type TokenizerOptions struct {
	// Models maps a model name to a local tokenizer.model file.
	Models map[string]string `toml:"models"`
}

type WorkbenchOptions struct {
	DefaultModel   string   `toml:"default-model"`
	Models         []string `toml:"models"`
	Autosave       string   `toml:"autosave"`
	TokenSeparator string   `toml:"token-separator"`
}

func (w WorkbenchOptions) AutosaveInterval() time.Duration {
	d, err := time.ParseDuration(w.Autosave)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

type Theme struct {
	Theme                    string `toml:"theme"`
	Foreground               string `toml:"foreground"`
	Background               string `toml:"background"`
	StatuslineForeground     string `toml:"statusline-foreground"`
	StatuslineBackground     string `toml:"statusline-background"`
	CardForeground           string `toml:"card-foreground"`
	CardActiveForeground     string `toml:"card-active-foreground"`
	TokenForeground          string `toml:"token-foreground"`
	TokenBackground          string `toml:"token-background"`
	TokenAltBackground       string `toml:"token-alt-background"`
	HighlightForeground      string `toml:"highlight-foreground"`
	HighlightBackground      string `toml:"highlight-background"`
	GroupEdgeForeground      string `toml:"group-edge-foreground"`
	TargetForeground         string `toml:"target-foreground"`
	PredictionForeground     string `toml:"prediction-foreground"`
	PredictionBackground     string `toml:"prediction-background"`
	PredictionProbForeground string `toml:"prediction-prob-foreground"`
	StatusReady              string `toml:"status-ready"`
	StatusInfo               string `toml:"status-info"`
	StatusSuccess            string `toml:"status-success"`
	StatusError              string `toml:"status-error"`
	StatusLoading            string `toml:"status-loading"`
	StatusWarning            string `toml:"status-warning"`
	SyntaxHeading            string `toml:"syntax-heading"`
	SyntaxEmphasis           string `toml:"syntax-emphasis"`
	SyntaxCode               string `toml:"syntax-code"`
	SyntaxLink               string `toml:"syntax-link"`
	SyntaxPunctuation        string `toml:"syntax-punctuation"`
}

type Config struct {
	Backend   BackendOptions   `toml:"backend"`
	Tokenizer TokenizerOptions `toml:"tokenizer"`
	Workbench WorkbenchOptions `toml:"workbench"`
	Theme     Theme            `toml:"theme"`
	Keymap    Keymap           `toml:"keymap"`
}

func Default() Config {
	return Config{
		Backend: BackendOptions{
			URL:          "http://localhost:8000",
			TokenizePath: "/tokenize",
			PredictPath:  "/lens/execute_selected",
			ModelsPath:   "/models",
			StatusPath:   "/status/stream",
			Timeout:      "60s",
		},
		Tokenizer: TokenizerOptions{
			Models: map[string]string{},
		},
		Workbench: WorkbenchOptions{
			Autosave:       "15s",
			TokenSeparator: "",
		},
		Theme: Theme{
			Foreground:               "#B3B1AD",
			Background:               "#0A0E14",
			StatuslineForeground:     "#B3B1AD",
			StatuslineBackground:     "#0F1419",
			CardForeground:           "#3E4B59",
			CardActiveForeground:     "#E6B450",
			TokenForeground:          "#B3B1AD",
			TokenBackground:          "#131721",
			TokenAltBackground:       "#1A1F29",
			HighlightForeground:      "#0A0E14",
			HighlightBackground:      "#59C2FF",
			GroupEdgeForeground:      "#FFD173",
			TargetForeground:         "#BAE67E",
			PredictionForeground:     "#B3B1AD",
			PredictionBackground:     "#0F1419",
			PredictionProbForeground: "#5C6773",
			StatusReady:              "#5C6773",
			StatusInfo:               "#59C2FF",
			StatusSuccess:            "#BAE67E",
			StatusError:              "#FF3333",
			StatusLoading:            "#FFD173",
			StatusWarning:            "#FFA759",
			SyntaxHeading:            "#FFA759",
			SyntaxEmphasis:           "#D4BFFF",
			SyntaxCode:               "#BAE67E",
			SyntaxLink:               "#73D0FF",
			SyntaxPunctuation:        "#5C6773",
		},
		Keymap: Keymap{
			"ctrl+t":    "tokenize",
			"ctrl+p":    "predict",
			"ctrl+n":    "new_completion",
			"ctrl+d":    "delete_completion",
			"pgdn":      "next_completion",
			"pgup":      "prev_completion",
			"ctrl+o":    "next_model",
			"alt+right": "next_token",
			"alt+left":  "prev_token",
			"ctrl+r":    "rename",
			"ctrl+s":    "save",
			"ctrl+q":    "quit",
			"ctrl+c":    "quit",
			"esc":       "cancel",
		},
	}
}

// Load reads config.toml from ConfigDir.
func Load() (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Default(), err
	}
	return LoadFrom(path)
}

// LoadFrom reads the given file over Default. A missing file is not an error.
func LoadFrom(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	var userCfg Config
	if _, err := toml.Decode(string(data), &userCfg); err != nil {
		return cfg, err
	}

	b := userCfg.Backend
	if b.URL != "" {
		cfg.Backend.URL = b.URL
	}
	if b.TokenizePath != "" {
		cfg.Backend.TokenizePath = b.TokenizePath
	}
	if b.PredictPath != "" {
		cfg.Backend.PredictPath = b.PredictPath
	}
	if b.ModelsPath != "" {
		cfg.Backend.ModelsPath = b.ModelsPath
	}
	if b.StatusPath != "" {
		cfg.Backend.StatusPath = b.StatusPath
	}
	if b.Timeout != "" {
		cfg.Backend.Timeout = b.Timeout
	}
	if b.Headers != nil {
		cfg.Backend.Headers = make(map[string]string, len(b.Headers))
		for k, v := range b.Headers {
			cfg.Backend.Headers[k] = v
		}
	}
	for k, v := range userCfg.Tokenizer.Models {
		cfg.Tokenizer.Models[k] = v
	}
	if userCfg.Workbench.DefaultModel != "" {
		cfg.Workbench.DefaultModel = userCfg.Workbench.DefaultModel
	}
	if len(userCfg.Workbench.Models) > 0 {
		cfg.Workbench.Models = userCfg.Workbench.Models
	}
	if userCfg.Workbench.Autosave != "" {
		cfg.Workbench.Autosave = userCfg.Workbench.Autosave
	}
	if userCfg.Workbench.TokenSeparator != "" {
		cfg.Workbench.TokenSeparator = userCfg.Workbench.TokenSeparator
	}

	if userCfg.Theme.Theme != "" {
		cfg.Theme.Theme = userCfg.Theme.Theme
	}
	if cfg.Theme.Theme != "" {
		theme, err := LoadTheme(cfg.Theme.Theme)
		if err != nil {
			return cfg, err
		}
		mergeTheme(&cfg.Theme, theme)
	}
	mergeTheme(&cfg.Theme, userCfg.Theme)

	for k, v := range userCfg.Keymap {
		cfg.Keymap[k] = v
	}

	return cfg, nil
}

func mergeTheme(dst *Theme, src Theme) {
	if src.Foreground != "" {
		dst.Foreground = src.Foreground
	}
	if src.Background != "" {
		dst.Background = src.Background
	}
	if src.StatuslineForeground != "" {
		dst.StatuslineForeground = src.StatuslineForeground
	}
	if src.StatuslineBackground != "" {
		dst.StatuslineBackground = src.StatuslineBackground
	}
	if src.CardForeground != "" {
		dst.CardForeground = src.CardForeground
	}
	if src.CardActiveForeground != "" {
		dst.CardActiveForeground = src.CardActiveForeground
	}
	if src.TokenForeground != "" {
		dst.TokenForeground = src.TokenForeground
	}
	if src.TokenBackground != "" {
		dst.TokenBackground = src.TokenBackground
	}
	if src.TokenAltBackground != "" {
		dst.TokenAltBackground = src.TokenAltBackground
	}
	if src.HighlightForeground != "" {
		dst.HighlightForeground = src.HighlightForeground
	}
	if src.HighlightBackground != "" {
		dst.HighlightBackground = src.HighlightBackground
	}
	if src.GroupEdgeForeground != "" {
		dst.GroupEdgeForeground = src.GroupEdgeForeground
	}
	if src.TargetForeground != "" {
		dst.TargetForeground = src.TargetForeground
	}
	if src.PredictionForeground != "" {
		dst.PredictionForeground = src.PredictionForeground
	}
	if src.PredictionBackground != "" {
		dst.PredictionBackground = src.PredictionBackground
	}
	if src.PredictionProbForeground != "" {
		dst.PredictionProbForeground = src.PredictionProbForeground
	}
	if src.StatusReady != "" {
		dst.StatusReady = src.StatusReady
	}
	if src.StatusInfo != "" {
		dst.StatusInfo = src.StatusInfo
	}
	if src.StatusSuccess != "" {
		dst.StatusSuccess = src.StatusSuccess
	}
	if src.StatusError != "" {
		dst.StatusError = src.StatusError
	}
	if src.StatusLoading != "" {
		dst.StatusLoading = src.StatusLoading
	}
	if src.StatusWarning != "" {
		dst.StatusWarning = src.StatusWarning
	}
	if src.SyntaxHeading != "" {
		dst.SyntaxHeading = src.SyntaxHeading
	}
	if src.SyntaxEmphasis != "" {
		dst.SyntaxEmphasis = src.SyntaxEmphasis
	}
	if src.SyntaxCode != "" {
		dst.SyntaxCode = src.SyntaxCode
	}
	if src.SyntaxLink != "" {
		dst.SyntaxLink = src.SyntaxLink
	}
	if src.SyntaxPunctuation != "" {
		dst.SyntaxPunctuation = src.SyntaxPunctuation
	}
}

func ThemePath(name string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "theme", name+".toml"), nil
}

func LoadTheme(name string) (Theme, error) {
	path, err := ThemePath(name)
	if err != nil {
		return Theme{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Theme{}, err
	}
	var t Theme
	if _, err := toml.Decode(string(data), &t); err == nil {
		return t, nil
	}
	var wrap struct {
		Theme Theme `toml:"theme"`
	}
	if _, err := toml.Decode(string(data), &wrap); err != nil {
		return Theme{}, err
	}
	return wrap.Theme, nil
}

func ConfigDir() (string, error) {
	if v := os.Getenv("LENSBENCH_CONFIG_HOME"); v != "" {
		return v, nil
	}
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "lensbench"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "lensbench"), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

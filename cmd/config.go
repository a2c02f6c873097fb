package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "issues"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage issues configuration.

Running bare 'issues config' is the same as 'issues config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# issues configuration
# See: issues config show (for effective values and sources)

# State directory for the background server PID and log files (default: ~/.config/issues)
# state_dir: {{ .StateDir }}

server:
  # Interface to bind; empty means all interfaces
  host: "{{ .ServerHost }}"

  # Port to listen on (also read from PORT)
  port: {{ .ServerPort }}

  # Base URL used by the issue client commands
  url: "{{ .ServerURL }}"

log:
  # One of: debug, info, warn, error
  level: "{{ .LogLevel }}"

api:
  # Send permissive CORS headers
  cors: {{ .APICORS }}
`

type configTemplateData struct {
	StateDir   string
	ServerHost string
	ServerPort int
	ServerURL  string
	LogLevel   string
	APICORS    bool
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

var configTmpl = template.Must(template.New("config").Parse(configTemplate))

// renderConfig fills the commented template with the effective settings.
func renderConfig() ([]byte, error) {
	var buf bytes.Buffer
	err := configTmpl.Execute(&buf, configTemplateData{
		StateDir:   viper.GetString("state_dir"),
		ServerHost: viper.GetString("server.host"),
		ServerPort: viper.GetInt("server.port"),
		ServerURL:  viper.GetString("server.url"),
		LogLevel:   viper.GetString("log.level"),
		APICORS:    viper.GetBool("api.cors"),
	})
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return buf.Bytes(), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	content, err := renderConfig()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
	} else {
		if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}
		ui.Success("Config file created: %s", cfgPath)
	}

	fmt.Fprintf(ui.Out, "\n%s", content)
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key     string
	EnvVars []string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVars: []string{"ISSUES_STATE_DIR"}},
	{Key: "server.host", EnvVars: []string{"ISSUES_SERVER_HOST"}},
	{Key: "server.port", EnvVars: []string{"ISSUES_SERVER_PORT", "PORT"}},
	{Key: "server.url", EnvVars: []string{"ISSUES_SERVER_URL"}},
	{Key: "log.level", EnvVars: []string{"ISSUES_LOG_LEVEL"}},
	{Key: "api.cors", EnvVars: []string{"ISSUES_API_CORS"}},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	inFile, err := configFileKeys(cfgPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		ui.Info("Config file: (none)")
	case err != nil:
		ui.Warning("Config file %s unreadable: %v", cfgPath, err)
	default:
		ui.Info("Config file: %s", cfgPath)
	}
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"Key", "Value", "Source"})
	for _, k := range configKeys {
		_ = table.Append([]string{k.Key, fmt.Sprintf("%v", viper.Get(k.Key)), keySource(k, inFile)})
	}
	return table.Render()
}

// configFileKeys reports which of configKeys are set in the YAML file at path.
func configFileKeys(path string) (map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	present := make(map[string]bool, len(configKeys))
	for _, k := range configKeys {
		if hasKeyPath(doc, strings.Split(k.Key, ".")) {
			present[k.Key] = true
		}
	}
	return present, nil
}

// hasKeyPath walks nested YAML maps along path.
func hasKeyPath(doc map[string]any, path []string) bool {
	v, ok := doc[path[0]]
	if !ok {
		return false
	}
	if len(path) == 1 {
		return true
	}
	nested, ok := v.(map[string]any)
	return ok && hasKeyPath(nested, path[1:])
}

// keySource names where a key's effective value comes from: env wins over file.
func keySource(k configKeyInfo, inFile map[string]bool) string {
	for _, envVar := range k.EnvVars {
		if _, ok := os.LookupEnv(envVar); ok {
			return "env: " + envVar
		}
	}
	if inFile[k.Key] {
		return "file"
	}
	return "default"
}

// editorCommand picks $EDITOR, then $VISUAL.
func editorCommand() (string, error) {
	for _, name := range []string{"EDITOR", "VISUAL"} {
		if editor := os.Getenv(name); editor != "" {
			return editor, nil
		}
	}
	return "", errors.New("$EDITOR is not set; export EDITOR=vim or similar")
}

func configEditRun() error {
	editor, err := editorCommand()
	if err != nil {
		return err
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfgPath); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config file not found: %s (run 'issues config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin, editCmd.Stdout, editCmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	return editCmd.Run()
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pinkmilk/starzzz/internal/export"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const DefaultPocketBaseURL = "https://pinkmilk.pockethost.io"

type Config struct {
	Port    int
	Verbose bool

	PocketBaseURL   string
	PBAdminEmail    string
	PBAdminPassword string
	PBAdminToken    string

	MotherfileCollection string
	MotherfileID         string
	MotherfileKnownID    string
	MotherfilePath       string

	FTPHost      string
	FTPPort      int
	FTPUser      string
	FTPPass      string
	FTPRemoteDir string

	GMUser         string
	GMPass         string
	PresenterToken string

	RedisAddr     string
	RedisPassword string

	PublicURL       string
	PlannerTimezone string
	PollInterval    time.Duration
	AutosaveDelay   time.Duration

	serverless bool
}

// aliases are extra environment names accepted for a flag.
var aliases = map[string][]string{
	"pocketbase-url":    {"NEXT_PUBLIC_POCKETBASE_URL"},
	"pb-admin-email":    {"NEXT_PUBLIC_ADMIN_EMAIL"},
	"pb-admin-password": {"NEXT_PUBLIC_ADMIN_PASSWORD"},
}

// Flags registers every setting on fs. Each flag can also be set from the
// environment variable with the upper-case, underscored name (env: PORT for
// --port).
func Flags(fs *pflag.FlagSet, c *Config) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.IntVarP(&c.Port, "port", "p", 8080, "port to listen on (env: PORT)")
	fs.BoolVarP(&c.Verbose, "verbose", "v", false, "log debug output (env: VERBOSE)")

	fs.StringVar(&c.PocketBaseURL, "pocketbase-url", DefaultPocketBaseURL, "PocketBase base URL (env: POCKETBASE_URL)")
	fs.StringVar(&c.PBAdminEmail, "pb-admin-email", "", "PocketBase admin email (env: PB_ADMIN_EMAIL)")
	fs.StringVar(&c.PBAdminPassword, "pb-admin-password", "", "PocketBase admin password (env: PB_ADMIN_PASSWORD)")
	fs.StringVar(&c.PBAdminToken, "pb-admin-token", "", "PocketBase admin token, used instead of email/password (env: PB_ADMIN_TOKEN)")

	fs.StringVar(&c.MotherfileCollection, "pb-motherfile-collection", "motherfile", "collection holding the motherfile (env: PB_MOTHERFILE_COLLECTION)")
	fs.StringVar(&c.MotherfileID, "pb-motherfile-id", "", "motherfile record id (env: PB_MOTHERFILE_ID)")
	fs.StringVar(&c.MotherfileKnownID, "pb-motherfile-known-id", "", "motherfile record id tried first (env: PB_MOTHERFILE_KNOWN_ID)")
	fs.StringVar(&c.MotherfilePath, "motherfile-path", "public/assets/fases.json", "local motherfile JSON (env: MOTHERFILE_PATH)")

	fs.StringVar(&c.FTPHost, "ftp-host", "", "export FTP host (env: FTP_HOST)")
	fs.IntVar(&c.FTPPort, "ftp-port", 21, "export FTP port (env: FTP_PORT)")
	fs.StringVar(&c.FTPUser, "ftp-user", "", "export FTP user (env: FTP_USER)")
	fs.StringVar(&c.FTPPass, "ftp-pass", "", "export FTP password (env: FTP_PASS)")
	fs.StringVar(&c.FTPRemoteDir, "ftp-remote-dir", "", "export FTP directory (env: FTP_REMOTE_DIR)")

	fs.StringVar(&c.GMUser, "gm-user", "", "presenter pages basic auth user (env: GM_USER)")
	fs.StringVar(&c.GMPass, "gm-pass", "", "presenter pages basic auth password (env: GM_PASS)")
	fs.StringVar(&c.PresenterToken, "presenter-token", "", "token required for the presenter socket role (env: PRESENTER_TOKEN)")

	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis address for the motherfile location cache (env: REDIS_ADDR)")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password (env: REDIS_PASSWORD)")

	fs.StringVar(&c.PublicURL, "public-url", "", "public base URL used in the join QR code (env: PUBLIC_URL)")
	fs.StringVar(&c.PlannerTimezone, "planner-timezone", "Europe/Amsterdam", "timezone for planner week keys (env: PLANNER_TIMEZONE)")
	fs.DurationVar(&c.PollInterval, "poll-interval", 10*time.Second, "session poll interval without realtime (env: POLL_INTERVAL)")
	fs.DurationVar(&c.AutosaveDelay, "autosave-delay", 1200*time.Millisecond, "planner autosave debounce (env: AUTOSAVE_DELAY)")
}

// Load reads an optional .env file and applies the environment to every
// flag that was not set on the command line.
func Load(fs *pflag.FlagSet, c *Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		env := append([]string{envName(f.Name)}, aliases[f.Name]...)
		_ = v.BindEnv(append([]string{f.Name}, env...)...)
		if !f.Changed && v.IsSet(f.Name) {
			if err := fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", env[0], err))
			}
		}
	})

	for _, k := range []string{"VERCEL", "NETLIFY", "AWS_LAMBDA_FUNCTION_NAME"} {
		_ = v.BindEnv(strings.ToLower(k), k)
		if v.GetString(strings.ToLower(k)) != "" {
			c.serverless = true
		}
	}
	return errors.Join(errs...)
}

func envName(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if (c.GMUser == "") != (c.GMPass == "") {
		return errors.New("both GM_USER and GM_PASS must be provided together")
	}
	if c.PocketBaseURL == "" {
		return errors.New("POCKETBASE_URL must not be empty")
	}
	if _, err := time.LoadLocation(c.PlannerTimezone); err != nil {
		return fmt.Errorf("invalid PLANNER_TIMEZONE %q: %w", c.PlannerTimezone, err)
	}
	return nil
}

// Serverless reports whether the process runs on a platform without a
// writable disk.
func (c *Config) Serverless() bool { return c.serverless }

func (c *Config) FTP() export.FTPConfig {
	return export.FTPConfig{
		Host:      c.FTPHost,
		Port:      c.FTPPort,
		User:      c.FTPUser,
		Pass:      c.FTPPass,
		RemoteDir: c.FTPRemoteDir,
	}
}

// MissingFTP lists the unset FTP settings.
func (c *Config) MissingFTP() []string { return c.FTP().Missing() }

// MissingAdmin lists what is needed for PocketBase admin access. A token
// alone is enough.
func (c *Config) MissingAdmin() []string {
	if c.PBAdminToken != "" {
		return nil
	}
	var out []string
	if c.PBAdminEmail == "" {
		out = append(out, "PB_ADMIN_EMAIL")
	}
	if c.PBAdminPassword == "" {
		out = append(out, "PB_ADMIN_PASSWORD")
	}
	return out
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.PlannerTimezone)
	if err != nil {
		return nil
	}
	return loc
}

func (c *Config) GMAuth() bool { return c.GMUser != "" && c.GMPass != "" }

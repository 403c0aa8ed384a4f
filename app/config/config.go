// Package config provides a go-simpler.org/env configuration table and helpers
// for listing its values as key/value pairs.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"go-simpler.org/env"
	lol "lol.mleku.dev"
	"lol.mleku.dev/chk"

	"relaywright.dev/pkg/dispatch"
	"relaywright.dev/pkg/pubsub"
	"relaywright.dev/pkg/queue"
	"relaywright.dev/pkg/version"
)

// C holds application configuration settings loaded from environment variables
// and default values, shared by all three process roles (FE, BR, RW).
type C struct {
	AppName     string `env:"RW_APP_NAME" usage:"set a name to display on information about the relay" default:"RELAYWRIGHT"`
	DataDir     string `env:"RW_DATA_DIR" usage:"storage location for the event store" default:"~/.local/share/RELAYWRIGHT"`
	Listen      string `env:"RW_LISTEN" default:"0.0.0.0" usage:"network listen address"`
	Port        int    `env:"RW_PORT" default:"3334" usage:"port to listen on"`
	HealthPort  int    `env:"RW_HEALTH_PORT" default:"0" usage:"optional health check HTTP port; 0 disables"`
	LogLevel    string `env:"RW_LOG_LEVEL" default:"info" usage:"log level: fatal error warn info debug trace"`
	LogToStdout bool   `env:"RW_LOG_TO_STDOUT" default:"false" usage:"log to stdout instead of stderr"`
	Pprof       string `env:"RW_PPROF" usage:"enable pprof in modes: cpu,memory,allocation"`
	PprofPath   string `env:"RW_PPROF_PATH" usage:"directory to write pprof profiles to; empty uses the working directory"`

	IPWhitelist []string `env:"RW_IP_WHITELIST" usage:"comma-separated list of IP address prefixes FE accepts connections from; empty allows all"`

	KStoreAddr     string `env:"RW_KSTORE_ADDR" default:"127.0.0.1:6379" usage:"address of the shared key/value store"`
	KStorePassword string `env:"RW_KSTORE_PASSWORD" usage:"password for the shared key/value store"`
	KStoreDB       int    `env:"RW_KSTORE_DB" default:"0" usage:"database index on the shared key/value store"`

	IQCapacity         int           `env:"RW_IQ_CAPACITY" default:"1000" usage:"Immortal Queue bounded capacity"`
	IQRateWindow       time.Duration `env:"RW_IQ_RATE_WINDOW" default:"1s" usage:"per-connection rate limiter sliding window"`
	IQRateCap          int           `env:"RW_IQ_RATE_CAP" default:"100" usage:"per-connection requests allowed per rate window"`
	IQBreakerThreshold float64       `env:"RW_IQ_BREAKER_THRESHOLD" default:"0.95" usage:"queue utilization fraction that trips the circuit breaker"`
	IQBreakerCooldown  time.Duration `env:"RW_IQ_BREAKER_COOLDOWN" default:"5s" usage:"time the circuit breaker stays open once tripped"`
	IQLatencyRingSize  int           `env:"RW_IQ_LATENCY_RING_SIZE" default:"1000" usage:"sample count kept in the pop latency ring"`

	SubTTL   time.Duration `env:"RW_SUB_TTL" default:"300s" usage:"subscription TTL in the key/value store (T_SUB)"`
	IndexTTL time.Duration `env:"RW_INDEX_TTL" default:"600s" usage:"subscription index TTL in the key/value store (T_INDEX); must exceed RW_SUB_TTL"`

	MaxMessageSize       int64         `env:"RW_MAX_MESSAGE_SIZE" default:"500000" usage:"maximum inbound WebSocket frame size in bytes"`
	PollInterval         time.Duration `env:"RW_POLL_INTERVAL" default:"100ms" usage:"FE outbound response-list poll cadence"`
	ResponseTTL          time.Duration `env:"RW_RESPONSE_TTL" default:"5s" usage:"TTL refreshed on a connection's response list whenever FE drains it"`
	RefreshEveryNPolls   int           `env:"RW_REFRESH_EVERY_N_POLLS" default:"10" usage:"how many outbound polls between subscription TTL refreshes"`
	CircuitCloseDelay    time.Duration `env:"RW_CIRCUIT_CLOSE_DELAY" default:"1s" usage:"delay between a circuit-open NOTICE and forcing the socket closed"`
	BridgeBatch          int           `env:"RW_BRIDGE_BATCH" default:"1000" usage:"max messages BR drains from IQ per cycle"`
	BridgeIdleSleep      time.Duration `env:"RW_BRIDGE_IDLE_SLEEP" default:"10ms" usage:"BR sleep when IQ has nothing to drain"`
	BridgeFailureBackoff time.Duration `env:"RW_BRIDGE_FAILURE_BACKOFF" default:"1s" usage:"BR sleep after a failed publish batch"`
	WorkerPopTimeout     time.Duration `env:"RW_WORKER_POP_TIMEOUT" default:"1s" usage:"RW's per-BLPOP timeout while assembling a batch"`
	WorkerBatch          int           `env:"RW_WORKER_BATCH" default:"1000" usage:"max work items RW assembles into one batch"`
	ResponseWriteTTL     time.Duration `env:"RW_RESPONSE_WRITE_TTL" default:"5s" usage:"TTL RW sets on a connection's response list when it writes to it"`
}

// New creates and initializes a new configuration object shared by
// every process role.
//
// # Return Values
//
//   - cfg: A pointer to the initialized configuration struct containing default
//     or environment-provided values
//
//   - err: An error object that is non-nil if any operation during
//     initialization fails
//
// # Expected Behaviour:
//
// Initializes a new configuration instance by loading environment variables
// (no .env file is read). If loading fails it prints the error and the help
// text to stderr and returns the error. Sets logging levels based on
// configuration values and returns the populated configuration
func New() (cfg *C, err error) {
	cfg = &C{}
	if err = env.Load(cfg, &env.Options{SliceSep: ","}); chk.T(err) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %s\n\n", err)
		}
		PrintHelp(cfg, os.Stderr)
		return
	}
	if cfg.DataDir == "" || strings.Contains(cfg.DataDir, "~") {
		cfg.DataDir = filepath.Join(xdg.DataHome, cfg.AppName)
	}
	if GetEnv() {
		PrintEnv(cfg, os.Stdout)
		os.Exit(0)
	}
	if HelpRequested() {
		PrintHelp(cfg, os.Stderr)
		os.Exit(0)
	}
	if cfg.LogToStdout {
		lol.Writer = os.Stdout
	}
	lol.SetLogLevel(cfg.LogLevel)
	return
}

// QueueConfig projects the Immortal Queue tunables onto queue.Config.
func (cfg *C) QueueConfig() queue.Config {
	return queue.Config{
		Capacity:         cfg.IQCapacity,
		RateLimitWindow:  cfg.IQRateWindow,
		RateLimitCap:     cfg.IQRateCap,
		CircuitThreshold: cfg.IQBreakerThreshold,
		CircuitCooldown:  cfg.IQBreakerCooldown,
		LatencyRingSize:  cfg.IQLatencyRingSize,
	}
}

// PubsubConfig projects the TTL discipline onto pubsub.Config.
func (cfg *C) PubsubConfig() pubsub.Config {
	return pubsub.Config{SubTTL: cfg.SubTTL, IndexTTL: cfg.IndexTTL}
}

// DispatchConfig projects the FE/BR/RW tunables onto dispatch.Config.
func (cfg *C) DispatchConfig() dispatch.Config {
	return dispatch.Config{
		MaxMessageSize:       cfg.MaxMessageSize,
		PollInterval:         cfg.PollInterval,
		ResponseTTL:          cfg.ResponseTTL,
		RefreshEveryNPolls:   cfg.RefreshEveryNPolls,
		CircuitCloseDelay:    cfg.CircuitCloseDelay,
		BridgeBatch:          cfg.BridgeBatch,
		BridgeIdleSleep:      cfg.BridgeIdleSleep,
		BridgeFailureBackoff: cfg.BridgeFailureBackoff,
		WorkerPopTimeout:     cfg.WorkerPopTimeout,
		WorkerBatch:          cfg.WorkerBatch,
		ResponseWriteTTL:     cfg.ResponseWriteTTL,
	}
}

// HelpRequested determines if the command line arguments indicate a request for help
//
// # Return Values
//
//   - help: A boolean value indicating true if a help flag was detected in the
//     command line arguments, false otherwise
//
// # Expected Behaviour
//
// The function checks the first command line argument for common help flags and
// returns true if any of them are present. Returns false if no help flag is found
func HelpRequested() (help bool) {
	if len(os.Args) > 1 {
		switch strings.ToLower(os.Args[1]) {
		case "help", "-h", "--h", "-help", "--help", "?":
			help = true
		}
	}
	return
}

// GetEnv checks if the first command line argument is "env" and returns
// whether the environment configuration should be printed.
//
// # Return Values
//
//   - requested: A boolean indicating true if the 'env' argument was
//     provided, false otherwise.
//
// # Expected Behaviour
//
// The function returns true when the first command line argument is "env"
// (case-insensitive), signalling that the environment configuration should be
// printed. Otherwise, it returns false.
func GetEnv() (requested bool) {
	if len(os.Args) > 1 {
		switch strings.ToLower(os.Args[1]) {
		case "env":
			requested = true
		}
	}
	return
}

// KV is a key/value pair.
type KV struct{ Key, Value string }

// KVSlice is a sortable slice of key/value pairs, designed for managing
// configuration data and enabling operations like merging and sorting based on
// keys.
type KVSlice []KV

func (kv KVSlice) Len() int           { return len(kv) }
func (kv KVSlice) Less(i, j int) bool { return kv[i].Key < kv[j].Key }
func (kv KVSlice) Swap(i, j int)      { kv[i], kv[j] = kv[j], kv[i] }

// Compose merges two KVSlice instances into a new slice where key-value pairs
// from the second slice override any duplicate keys from the first slice.
//
// # Parameters
//
//   - kv2: The second KVSlice whose entries will be merged with the receiver.
//
// # Return Values
//
//   - out: A new KVSlice containing all entries from both slices, with keys
//     from kv2 taking precedence over keys from the receiver.
//
// # Expected Behaviour
//
// The method returns a new KVSlice that combines the contents of the receiver
// and kv2. If any key exists in both slices, the value from kv2 is used. The
// resulting slice remains sorted by keys as per the KVSlice implementation.
func (kv KVSlice) Compose(kv2 KVSlice) (out KVSlice) {
	// duplicate the initial KVSlice
	for _, p := range kv {
		out = append(out, p)
	}
out:
	for i, p := range kv2 {
		for j, q := range out {
			// if the key is repeated, replace the value
			if p.Key == q.Key {
				out[j].Value = kv2[i].Value
				continue out
			}
		}
		out = append(out, p)
	}
	return
}

// EnvKV generates key/value pairs from a configuration object's struct tags
//
// # Parameters
//
//   - cfg: A configuration object whose struct fields are processed for env tags
//
// # Return Values
//
//   - m: A KVSlice containing key/value pairs derived from the config's env tags
//
// # Expected Behaviour
//
// Processes each field of the config object, extracting values tagged with
// "env" and converting them to strings. Skips fields without an "env" tag.
// Handles various value types including strings, integers, booleans, durations,
// and string slices by joining elements with commas.
func EnvKV(cfg any) (m KVSlice) {
	t := reflect.TypeOf(cfg)
	for i := 0; i < t.NumField(); i++ {
		k := t.Field(i).Tag.Get("env")
		v := reflect.ValueOf(cfg).Field(i).Interface()
		var val string
		switch v.(type) {
		case string:
			val = v.(string)
		case int, int64, bool, float64, time.Duration:
			val = fmt.Sprint(v)
		case []string:
			arr := v.([]string)
			if len(arr) > 0 {
				val = strings.Join(arr, ",")
			}
		}
		// this can happen with embedded structs
		if k == "" {
			continue
		}
		m = append(m, KV{k, val})
	}
	return
}

// PrintEnv outputs sorted environment key/value pairs from a configuration object
// to the provided writer
//
// # Parameters
//
//   - cfg: Pointer to the configuration object containing env tags
//
//   - printer: Destination for the output, typically an io.Writer implementation
//
// # Expected Behaviour
//
// Outputs each environment variable derived from the config's struct tags in
// sorted order, formatted as "key=value\n" to the specified writer
func PrintEnv(cfg *C, printer io.Writer) {
	kvs := EnvKV(*cfg)
	sort.Sort(kvs)
	for _, v := range kvs {
		_, _ = fmt.Fprintf(printer, "%s=%s\n", v.Key, v.Value)
	}
}

// PrintHelp prints help information including application version, environment
// variable configuration, and details about .env file handling to the provided
// writer
//
// # Parameters
//
//   - cfg: Configuration object whose app name and values are printed
//
//   - printer: Output destination for the help text
//
// # Expected Behaviour
//
// Prints application name and version, the env/help command usage, the
// environment variables that configure the application with their usage
// strings, and the current configuration values using PrintEnv. Outputs all
// information to the specified writer
func PrintHelp(cfg *C, printer io.Writer) {
	_, _ = fmt.Fprintf(
		printer,
		"%s %s\n\n", cfg.AppName, version.V,
	)
	_, _ = fmt.Fprintf(
		printer,
		`Usage: %s [env|help]

- env: print environment variables configuring %s
- help: print this help text

`,
		cfg.AppName, cfg.AppName,
	)
	_, _ = fmt.Fprintf(
		printer,
		"Environment variables that configure %s:\n\n", cfg.AppName,
	)
	env.Usage(cfg, printer, &env.Options{SliceSep: ","})
	fmt.Fprintf(printer, "\ncurrent configuration:\n\n")
	PrintEnv(cfg, printer)
	fmt.Fprintln(printer)
	return
}

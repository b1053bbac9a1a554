package server

import (
	"fmt"
	"reflect"
	"runtime"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// DefaultShutdownTimeout bounds the graceful drain when no
// shutdown_timeout option is given.
const DefaultShutdownTimeout = 10 * time.Second

// Options is the decoded form of the option map passed to Configure.
type Options struct {
	WorkerNum        int           `mapstructure:"worker_num"`
	MaxRequest       int           `mapstructure:"max_request"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	PackageMaxLength int64         `mapstructure:"package_max_length"`
	MaxHeaderBytes   int           `mapstructure:"max_header_bytes"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`

	// Extra holds keys the host does not know, verbatim.
	Extra map[string]any `mapstructure:"-"`
}

// DefaultOptions returns the options used for keys that are not set.
func DefaultOptions() Options {
	return Options{
		WorkerNum:       runtime.NumCPU(),
		ShutdownTimeout: DefaultShutdownTimeout,
		Extra:           map[string]any{},
	}
}

// DecodeOptions decodes raw over DefaultOptions. Values are weakly typed
// ("4" works for worker_num) and durations accept "5s" or a number of
// seconds.
func DecodeOptions(raw map[string]any) (Options, error) {
	opts := DefaultOptions()
	if len(raw) == 0 {
		return opts, nil
	}

	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         &md,
		Result:           &opts,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return opts, err
	}

	if err := dec.Decode(raw); err != nil {
		return opts, fmt.Errorf("decode server options: %w", err)
	}

	for _, key := range md.Unused {
		opts.Extra[key] = raw[key]
	}

	if opts.WorkerNum <= 0 {
		opts.WorkerNum = runtime.NumCPU()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	return opts, opts.validate()
}

func (o Options) validate() error {
	switch {
	case o.MaxRequest < 0:
		return fmt.Errorf("max_request must not be negative, got %d", o.MaxRequest)
	case o.ReadTimeout < 0, o.WriteTimeout < 0, o.IdleTimeout < 0, o.RequestTimeout < 0:
		return fmt.Errorf("timeouts must not be negative")
	case o.PackageMaxLength < 0:
		return fmt.Errorf("package_max_length must not be negative, got %d", o.PackageMaxLength)
	case o.MaxHeaderBytes < 0:
		return fmt.Errorf("max_header_bytes must not be negative, got %d", o.MaxHeaderBytes)
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDurationHook treats bare numbers as seconds.
func secondsToDurationHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}

	v := reflect.ValueOf(data)
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if from == durationType {
			return data, nil
		}
		return time.Duration(v.Int()) * time.Second, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return time.Duration(v.Uint()) * time.Second, nil
	case reflect.Float32, reflect.Float64:
		return time.Duration(v.Float() * float64(time.Second)), nil
	}
	return data, nil
}

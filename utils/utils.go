package utils

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"imagesorter/config"
)

// Commands understood by the CLI
const (
	CommandClassify = "classify"
	CommandSearch   = "search"
)

// ParseArguments converts command-line arguments (without the program name)
// into a map of flags and values. The first recognised command word is stored
// under "command".
func ParseArguments(argv []string) map[string]string {
	args := make(map[string]string)

	commandIndex := -1
	for i, a := range argv {
		if a == CommandClassify || a == CommandSearch {
			args["command"] = a
			commandIndex = i
			break
		}
	}

	for i := 0; i < len(argv); i++ {
		if i == commandIndex {
			continue
		}

		arg := argv[i]
		if !strings.HasPrefix(arg, "--") {
			continue
		}

		// --key=value
		if strings.Contains(arg, "=") {
			parts := strings.SplitN(arg, "=", 2)
			args[strings.TrimPrefix(parts[0], "--")] = parts[1]
			continue
		}

		// --key value, or a boolean --key
		flagName := strings.TrimPrefix(arg, "--")
		if i+1 >= len(argv) || strings.HasPrefix(argv[i+1], "--") || i+1 == commandIndex {
			args[flagName] = "true"
		} else {
			args[flagName] = argv[i+1]
			i++
		}
	}

	return args
}

// Lookup returns the first non-empty value among the given flag aliases
func Lookup(args map[string]string, names ...string) (string, bool) {
	for _, n := range names {
		if v, ok := args[n]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// PrintUsage outputs the command-line usage instructions
func PrintUsage(w io.Writer, prog string) {
	fmt.Fprintf(w, "Usage:\n")
	fmt.Fprintf(w, "  %s classify --dir=PATH --template_dir=PATH --result_dir=PATH [--threshold=VALUE] [options]\n", prog)
	fmt.Fprintf(w, "  %s search --image=PATH --template_dir=PATH [--top=N] [--copy-to=PATH] [options]\n", prog)
	fmt.Fprintf(w, "\nParameters:\n")
	fmt.Fprintf(w, "  --dir          : Directory of images to classify (not recursive)\n")
	fmt.Fprintf(w, "  --template_dir : Template root; each top-level subdirectory is a label\n")
	fmt.Fprintf(w, "  --result_dir   : Output root; images are copied to <result_dir>/<label>/\n")
	fmt.Fprintf(w, "  --threshold    : Minimum similarity for a label (0.0-1.0, default: %.1f)\n", config.DefaultThreshold)
	fmt.Fprintf(w, "  --workers      : Parallel workers (default: 3/4 of the CPUs)\n")
	fmt.Fprintf(w, "  --collision    : overwrite | suffix\n")
	fmt.Fprintf(w, "  --root-files   : skip | stem, for images directly under the template root\n")
	fmt.Fprintf(w, "  --strategy     : nearest | centroid\n")
	fmt.Fprintf(w, "  --algorithm    : average | perception | difference\n")
	fmt.Fprintf(w, "  --hash-size    : Hash side length; bits = size*size (default: 128)\n")
	fmt.Fprintf(w, "  --loader       : opencv | go\n")
	fmt.Fprintf(w, "  --timeout      : Per-image deadline, e.g. 30s\n")
	fmt.Fprintf(w, "  --journal      : SQLite journal path (default: in memory)\n")
	fmt.Fprintf(w, "  --config       : YAML config file\n")
	fmt.Fprintf(w, "  --image        : Query image for search\n")
	fmt.Fprintf(w, "  --top          : Number of search results to print\n")
	fmt.Fprintf(w, "  --copy-to      : Copy search results here as <name>_similarity_<score><ext>\n")
	fmt.Fprintf(w, "  --debug        : Enable debug mode (logs detailed information)\n")
	fmt.Fprintf(w, "  --logfile      : Specify custom log file path (default: imagesorter.log)\n")
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  %s classify --dir=./inbox --template_dir=./templates --result_dir=./sorted --threshold=0.8\n", prog)
	fmt.Fprintf(w, "  %s search --image=./query.png --template_dir=./templates --top=3\n", prog)
}

// ParseThreshold parses and validates a threshold value.
// On error the default threshold is returned alongside the error.
func ParseThreshold(thresholdStr string) (float64, error) {
	parsed, err := strconv.ParseFloat(thresholdStr, 64)
	if err != nil || math.IsNaN(parsed) || parsed < 0 || parsed > 1 {
		return config.DefaultThreshold, fmt.Errorf("%w: %q", config.ErrInvalidThreshold, thresholdStr)
	}
	return parsed, nil
}

// ParsePositiveInt parses a flag value that must be >= 1
func ParsePositiveInt(name, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", name, value)
	}
	return n, nil
}

// ApplyOverrides copies command-line flags over values loaded from the
// config file. Unknown flags are ignored.
func ApplyOverrides(cfg *config.Config, args map[string]string) error {
	if v, ok := Lookup(args, "threshold"); ok {
		t, err := ParseThreshold(v)
		if err != nil {
			return err
		}
		cfg.Threshold = t
	}
	if v, ok := Lookup(args, "workers"); ok {
		n, err := ParsePositiveInt("workers", v)
		if err != nil {
			return err
		}
		cfg.Workers = n
	}
	if v, ok := Lookup(args, "hash-size"); ok {
		n, err := ParsePositiveInt("hash-size", v)
		if err != nil {
			return err
		}
		cfg.Hash.Size = n
	}
	if v, ok := Lookup(args, "top"); ok {
		n, err := ParsePositiveInt("top", v)
		if err != nil {
			return err
		}
		cfg.SearchTopN = n
	}
	if v, ok := Lookup(args, "timeout"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", v, err)
		}
		cfg.ImageTimeout = config.Duration(d)
	}
	if v, ok := Lookup(args, "collision"); ok {
		cfg.Collision = v
	}
	if v, ok := Lookup(args, "root-files"); ok {
		cfg.RootFiles = v
	}
	if v, ok := Lookup(args, "strategy"); ok {
		cfg.Strategy = v
	}
	if v, ok := Lookup(args, "algorithm"); ok {
		cfg.Hash.Algorithm = v
	}
	if v, ok := Lookup(args, "loader"); ok {
		cfg.Loader = v
	}
	if v, ok := Lookup(args, "journal"); ok {
		cfg.Journal = v
	}
	return cfg.Validate()
}

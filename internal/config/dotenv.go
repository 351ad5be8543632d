package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// LoadDotEnv exports the KEEPER_* entries of a .env file into the process
// environment. Other keys are ignored. Variables already set win unless
// override is true.
func LoadDotEnv(path string, override bool) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	for _, key := range v.AllKeys() {
		if !strings.HasPrefix(key, envPrefix+"_") {
			continue
		}
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set && !override {
			continue
		}
		if err := os.Setenv(name, v.GetString(key)); err != nil {
			return err
		}
	}
	return nil
}

// LoadDotEnvDefault loads .env from the working directory and then from the
// binary's directory. Missing files are skipped.
func LoadDotEnvDefault() error {
	var dirs []string
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	var errs []error
	for _, dir := range dirs {
		p := filepath.Join(dir, ".env")
		st, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) || (err == nil && st.IsDir()) {
			continue
		}
		if err == nil {
			err = LoadDotEnv(p, false)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

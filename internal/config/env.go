package config

import "strconv"

// ApplyEnv overlays 12-factor environment overrides onto p. getenv is
// usually os.Getenv; tests pass a map lookup.
//
//	DATA_DIR, ELT_WORK_DIR      work_dir (ELT_WORK_DIR wins)
//	ELT_STORAGE_KIND            storage.kind
//	ELT_DSN                     storage.dsn
//	KAGGLE_USERNAME, KAGGLE_KEY source.kaggle credentials
//	ELT_CH_BUFFER               runtime.channel_buffer
//	ELT_HTTP_RETRIES            runtime.http_retries
func (p *Pipeline) ApplyEnv(getenv func(string) string) {
	setString(&p.WorkDir, getenv("DATA_DIR"))
	setString(&p.WorkDir, getenv("ELT_WORK_DIR"))
	setString(&p.Storage.Kind, getenv("ELT_STORAGE_KIND"))
	setString(&p.Storage.DSN, getenv("ELT_DSN"))
	setString(&p.Source.Kaggle.Username, getenv("KAGGLE_USERNAME"))
	setString(&p.Source.Kaggle.Key, getenv("KAGGLE_KEY"))
	p.Runtime.ChannelBuffer = getenvInt(getenv, "ELT_CH_BUFFER", p.Runtime.ChannelBuffer)
	p.Runtime.HTTPRetries = getenvInt(getenv, "ELT_HTTP_RETRIES", p.Runtime.HTTPRetries)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// getenvInt reads an int from the environment, returning def when unset or
// invalid.
func getenvInt(getenv func(string) string, k string, def int) int {
	if s := getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

// pickInt chooses a when positive, otherwise b.
func pickInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}

package tui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/gkirna/scribeflow/internal/config"
	"github.com/gkirna/scribeflow/internal/provider"
	"github.com/gkirna/scribeflow/internal/transcriber"
)

func providerOptions(names []string) []huh.Option[string] {
	options := make([]huh.Option[string], 0, len(names))
	for _, n := range names {
		options = append(options, huh.NewOption(provider.DisplayName(n), n))
	}
	return options
}

func editTranscription(cfg *config.Config) error {
	t := &cfg.Transcription
	name := t.Provider
	endpoint := t.Endpoint
	lang := t.Language
	model := t.Model
	diarize := t.Diarize
	maxSpeakers := strconv.Itoa(t.MaxSpeakers)
	credentials := t.CredentialsFile
	var apiKey string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Provider").
				Options(providerOptions(transcriber.Providers())...).
				Value(&name),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Endpoint").
				Description("Websocket URL; leave empty for the provider default").
				Value(&endpoint),
			huh.NewInput().
				Title("API key").
				Description(apiKeyHint(provider.Transcription)).
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
			huh.NewInput().
				Title("Model").
				Description(modelHint(provider.Transcription)).
				Value(&model),
		).WithHideFunc(func() bool { return name == provider.Simulated || name == provider.Google }),
		huh.NewGroup(
			huh.NewInput().
				Title("Credentials file").
				Description("Service account JSON; empty uses application default credentials").
				Value(&credentials),
		).WithHideFunc(func() bool { return name != provider.Google }),
		huh.NewGroup(
			huh.NewInput().
				Title("Language").
				Description("BCP 47 tag, e.g. en-US").
				Validate(validateLanguage).
				Value(&lang),
			huh.NewConfirm().
				Title("Speaker diarization").
				Value(&diarize),
			huh.NewInput().
				Title("Max speakers").
				Validate(validatePositiveInt).
				Value(&maxSpeakers),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return err
	}

	t.Provider = name
	t.Endpoint = strings.TrimSpace(endpoint)
	t.Language = strings.TrimSpace(lang)
	t.Model = strings.TrimSpace(model)
	t.Diarize = diarize
	t.MaxSpeakers = atoi(maxSpeakers)
	t.CredentialsFile = strings.TrimSpace(credentials)
	setAPIKey(cfg, name, apiKey)
	return nil
}

func editPersistence(cfg *config.Config) error {
	p := &cfg.Persistence
	store := p.Store
	uri := p.Mongo.URI
	database := p.Mongo.Database
	collection := p.Mongo.Collection
	requireCollection := p.Mongo.RequireCollection
	batchSize := strconv.Itoa(p.BatchSize)
	debounce := p.Debounce.String()
	maxRetries := strconv.Itoa(p.MaxRetries)
	cachePath := p.CachePath
	outputDir := p.OutputDir

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Durable store").
				Options(
					huh.NewOption("MongoDB", "mongo"),
					huh.NewOption("In memory (nothing survives the process)", "memory"),
				).
				Value(&store),
		),
		huh.NewGroup(
			huh.NewInput().Title("MongoDB URI").Validate(validateMongoURI).Value(&uri),
			huh.NewInput().Title("Database").Value(&database),
			huh.NewInput().Title("Collection").Value(&collection),
			huh.NewConfirm().
				Title("Require existing collection").
				Description("Treat a missing collection as unavailable instead of creating it").
				Value(&requireCollection),
		).WithHideFunc(func() bool { return store != "mongo" }),
		huh.NewGroup(
			huh.NewInput().Title("Batch size").Validate(validatePositiveInt).Value(&batchSize),
			huh.NewInput().Title("Debounce").Validate(validateDuration).Value(&debounce),
			huh.NewInput().Title("Max attempts per batch").Validate(validatePositiveInt).Value(&maxRetries),
			huh.NewInput().
				Title("Fallback cache file").
				Description("bbolt file for chunks the store rejects; empty keeps them in memory").
				Value(&cachePath),
			huh.NewInput().
				Title("Output directory").
				Description("Where session summaries are written; empty uses the cache dir").
				Value(&outputDir),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return err
	}

	p.Store = store
	p.Mongo.URI = strings.TrimSpace(uri)
	p.Mongo.Database = strings.TrimSpace(database)
	p.Mongo.Collection = strings.TrimSpace(collection)
	p.Mongo.RequireCollection = requireCollection
	p.BatchSize = atoi(batchSize)
	p.Debounce = duration(debounce)
	p.MaxRetries = atoi(maxRetries)
	p.CachePath = strings.TrimSpace(cachePath)
	p.OutputDir = strings.TrimSpace(outputDir)
	return nil
}

func editEnrichment(cfg *config.Config) error {
	e := &cfg.Enrichment
	enabled := e.Enabled
	name := e.Provider
	if name == "" {
		name = provider.OpenAI
	}
	model := e.Model
	domain := e.Domain
	customPrompt := e.CustomPrompt
	var apiKey string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enrich transcripts at stop").
				Description("Speaker roles, entities, sentiment and urgency from an LLM").
				Value(&enabled),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Provider").
				Options(providerOptions(provider.List(provider.LLM))...).
				Value(&name),
			huh.NewInput().
				Title("API key").
				Description(apiKeyHint(provider.LLM)).
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
			huh.NewInput().Title("Model").Description(modelHint(provider.LLM)).Value(&model),
			huh.NewInput().Title("Domain").Description("e.g. customer support, medical intake").Value(&domain),
			huh.NewText().Title("Custom prompt").Value(&customPrompt),
		).WithHideFunc(func() bool { return !enabled }),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return err
	}

	e.Enabled = enabled
	if enabled {
		e.Provider = name
		e.Model = strings.TrimSpace(model)
		e.Domain = strings.TrimSpace(domain)
		e.CustomPrompt = strings.TrimSpace(customPrompt)
		setAPIKey(cfg, name, apiKey)
	}
	return nil
}

func inputKeywords(current []string) ([]string, error) {
	text := strings.Join(current, ", ")
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title("Keywords").
				Description("Comma separated terms to boost in recognition and enrichment").
				Value(&text),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return nil, err
	}
	return parseKeywords(text), nil
}

func editNotifications(cfg *config.Config) error {
	n := &cfg.Notifications
	enabled := n.Enabled
	kind := n.Type
	warnings := n.Warnings

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().Title("Notifications").Value(&enabled),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Delivery").
				Options(
					huh.NewOption("Desktop (notify-send)", "desktop"),
					huh.NewOption("Log only", "log"),
				).
				Value(&kind),
			huh.NewConfirm().
				Title("Include warnings").
				Description("Action-needed signals are always shown").
				Value(&warnings),
		).WithHideFunc(func() bool { return !enabled }),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return err
	}

	n.Enabled = enabled
	n.Type = kind
	n.Warnings = warnings
	return nil
}

func editAdvanced(cfg *config.Config) error {
	capacity := cfg.Buffer.Capacity.String()
	contextWindow := cfg.Buffer.ContextWindow.String()
	minProcess := cfg.Buffer.MinProcess.String()
	sampleRate := strconv.Itoa(cfg.Recording.SampleRate)
	device := cfg.Recording.Device
	httpEnabled := cfg.HTTP.Enabled
	httpAddr := cfg.HTTP.Addr
	kafkaEnabled := cfg.Events.Kafka.Enabled
	brokers := strings.Join(cfg.Events.Kafka.Brokers, ",")

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Buffer capacity").Validate(validateDuration).Value(&capacity),
			huh.NewInput().Title("Context window").Validate(validateDuration).Value(&contextWindow),
			huh.NewInput().Title("Minimum send size").Validate(validateDuration).Value(&minProcess),
			huh.NewInput().Title("Sample rate").Validate(validatePositiveInt).Value(&sampleRate),
			huh.NewInput().Title("Capture device").Description("PipeWire target; empty uses the default").Value(&device),
		).Title("Audio"),
		huh.NewGroup(
			huh.NewConfirm().Title("HTTP status server").Value(&httpEnabled),
			huh.NewInput().Title("Listen address").Value(&httpAddr),
			huh.NewConfirm().Title("Mirror events to Kafka").Value(&kafkaEnabled),
			huh.NewInput().Title("Kafka brokers").Description("Comma separated host:port").Value(&brokers),
		).Title("Integrations"),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Buffer.Capacity = duration(capacity)
	cfg.Buffer.ContextWindow = duration(contextWindow)
	cfg.Buffer.MinProcess = duration(minProcess)
	cfg.Recording.SampleRate = atoi(sampleRate)
	cfg.Recording.Device = strings.TrimSpace(device)
	cfg.HTTP.Enabled = httpEnabled
	cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	cfg.Events.Kafka.Enabled = kafkaEnabled
	cfg.Events.Kafka.Brokers = parseKeywords(brokers)
	return nil
}

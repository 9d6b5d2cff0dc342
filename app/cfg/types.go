package cfg

type Cfg struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Application configuration
	FeedsDir          string
	Port              string
	WorkerCount       int
	SchedulerInterval int
	APIAccessKey      string

	// Delivery configuration
	Transport  string
	WebhookURL string

	// Application metadata
	UserAgent  string
	Timezone   string
	InstanceID string
	Debug      bool
	Version    string
}

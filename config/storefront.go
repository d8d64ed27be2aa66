package config

// StoreConfig is the single configuration struct for the storefront binary:
// a TOML file overridden by environment variables via cleanenv.
type StoreConfig struct {
	DBFile        string `toml:"db_file" env:"DB_FILE" env-default:"./data/storefront.db"`
	AdminPIN      string `toml:"admin_pin" env:"ADMIN_PIN"`
	SessionSecret string `toml:"session_secret" env:"SESSION_SECRET"`

	PaymentProvider string `toml:"payment_provider" env:"PAYMENT_PROVIDER" env-default:"lightning"`
	OnchainMinSats  int64  `toml:"onchain_min_sats" env:"ONCHAIN_MIN_SATS" env-default:"10000"`

	Lightning struct {
		GRPCHost             string `toml:"grpc_host" env:"LND_GRPC_HOST" env-default:"localhost"`
		GRPCPort             string `toml:"grpc_port" env:"LND_GRPC_PORT" env-default:"10009"`
		TLSCertPath          string `toml:"tls_cert_path" env:"LND_TLS_CERT_PATH"`
		MacaroonPath         string `toml:"macaroon_path" env:"LND_MACAROON_PATH"`
		Network              string `toml:"network" env:"LND_NETWORK" env-default:"mainnet"`
		InvoiceExpirySeconds int64  `toml:"invoice_expiry_seconds" env:"LND_INVOICE_EXPIRY_SECONDS" env-default:"900"`
	} `toml:"lightning"`

	Swap struct {
		BaseURL           string `toml:"base_url" env:"SWAP_BASE_URL"`
		APIKey            string `toml:"api_key" env:"SWAP_API_KEY"`
		WebhookSecret     string `toml:"webhook_secret" env:"SWAP_WEBHOOK_SECRET"`
		Network           string `toml:"network" env:"SWAP_NETWORK" env-default:"mainnet"`
		SwapExpirySeconds int64  `toml:"swap_expiry_seconds" env:"SWAP_EXPIRY_SECONDS" env-default:"3600"`
	} `toml:"swap"`

	Nostr struct {
		SecretHex   string   `toml:"secret_hex" env:"SHOP_NOSTR_SECRET_HEX"`
		Relays      []string `toml:"relays" env:"SHOP_NOSTR_RELAYS" env-separator:","`
		StoreName   string   `toml:"store_name" env:"SHOP_NOSTR_NAME"`
		NIP05Domain string   `toml:"nip05_domain" env:"SHOP_NOSTR_NIP05_DOMAIN"`
	} `toml:"nostr"`

	SMTP struct {
		Host    string `toml:"host" env:"SMTP_HOST"`
		Port    string `toml:"port" env:"SMTP_PORT" env-default:"587"`
		User    string `toml:"user" env:"SMTP_USER"`
		Pass    string `toml:"pass" env:"SMTP_PASS"`
		From    string `toml:"from" env:"SMTP_FROM"`
		ReplyTo string `toml:"reply_to" env:"SMTP_REPLY_TO"`
	} `toml:"smtp"`

	IMAP struct {
		Host string `toml:"host" env:"IMAP_HOST"`
		Port string `toml:"port" env:"IMAP_PORT" env-default:"993"`
		User string `toml:"user" env:"IMAP_USER"`
		Pass string `toml:"pass" env:"IMAP_PASS"`
	} `toml:"imap"`

	Redis struct {
		Host     string `toml:"host" env:"STOREFRONT_REDIS_HOST"`
		Port     string `toml:"port" env:"STOREFRONT_REDIS_PORT" env-default:"6379"`
		Password string `toml:"password" env:"STOREFRONT_REDIS_PASSWORD"`
		DB       int    `toml:"db" env:"STOREFRONT_REDIS_DB" env-default:"0"`
	} `toml:"redis"`

	HTTP struct {
		Addr                  string `toml:"addr" env:"HTTP_ADDR" env-default:":8080"`
		RequestTimeoutSeconds int    `toml:"request_timeout_seconds" env:"HTTP_REQUEST_TIMEOUT_SECONDS" env-default:"30"`
	} `toml:"http"`
}

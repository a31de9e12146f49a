package credentials

// Location is where a credential goes on the outgoing request
type Location string

const (
	InQuery  Location = "query"
	InHeader Location = "header"
)

// Placement names the parameter or header that carries the credential
type Placement struct {
	Param string
	In    Location
}

// Canary is the fixed, cheap request used for active probes and secret tests
type Canary struct {
	Endpoint string
	Params   map[string]string
}

// Descriptor is the per-provider credential and probe description
type Descriptor struct {
	SecretName   string
	Placement    Placement
	Canary       Canary
	Instructions string
}

// DefaultDescriptors is the built-in provider table. Adding a provider is an
// entry here plus a service config row.
var DefaultDescriptors = map[string]Descriptor{
	"weather": {
		SecretName: "OPENWEATHER_API_KEY",
		Placement:  Placement{Param: "appid", In: InQuery},
		Canary: Canary{
			Endpoint: "/weather",
			Params:   map[string]string{"q": "London", "units": "metric"},
		},
		Instructions: "Create a free account at https://openweathermap.org/api and copy the key from the API keys tab.",
	},
	"news": {
		SecretName: "NEWS_API_KEY",
		Placement:  Placement{Param: "apiKey", In: InQuery},
		Canary: Canary{
			Endpoint: "/top-headlines",
			Params:   map[string]string{"country": "us", "pageSize": "1"},
		},
		Instructions: "Register at https://newsapi.org/register; the key is shown on the account page.",
	},
	"stocks": {
		SecretName: "ALPHA_VANTAGE_API_KEY",
		Placement:  Placement{Param: "apikey", In: InQuery},
		Canary: Canary{
			Endpoint: "/query",
			Params:   map[string]string{"function": "GLOBAL_QUOTE", "symbol": "IBM"},
		},
		Instructions: "Claim a free key at https://www.alphavantage.co/support/#api-key.",
	},
	"sports": {
		SecretName: "FOOTBALL_DATA_API_KEY",
		Placement:  Placement{Param: "X-Auth-Token", In: InHeader},
		Canary: Canary{
			Endpoint: "/competitions",
			Params:   map[string]string{"areas": "2077"},
		},
		Instructions: "Register at https://www.football-data.org/client/register; the token arrives by email.",
	},
	"crypto": {
		Canary: Canary{
			Endpoint: "/ping",
		},
		Instructions: "CoinGecko's public API needs no key.",
	},
}

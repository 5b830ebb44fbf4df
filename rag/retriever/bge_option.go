package retriever

type Options struct {
	ProviderUrl string
	Token       string
}

type Option func(*Options)

func WithProviderUrl(url string) Option {
	return func(o *Options) {
		o.ProviderUrl = url
	}
}

func WithToken(token string) Option {
	return func(o *Options) {
		o.Token = token
	}
}

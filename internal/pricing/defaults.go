package pricing

// Default returns the built-in price list. USD per 1K tokens.
func Default() *Table {
	return NewTable(defaultEntries...)
}

var defaultEntries = []Entry{
	{Vendor: "openai", Model: "gpt-4o", InputPer1K: 0.005, OutputPer1K: 0.015, CachedInputPer1K: 0.0025},
	{Vendor: "openai", Model: "gpt-4o-*", InputPer1K: 0.0025, OutputPer1K: 0.01, CachedInputPer1K: 0.00125},
	{Vendor: "openai", Model: "gpt-4o-mini", InputPer1K: 0.00015, OutputPer1K: 0.0006, CachedInputPer1K: 0.000075},
	{Vendor: "openai", Model: "gpt-4o-mini-*", InputPer1K: 0.00015, OutputPer1K: 0.0006, CachedInputPer1K: 0.000075},
	{Vendor: "openai", Model: "gpt-4-turbo*", InputPer1K: 0.01, OutputPer1K: 0.03},
	{Vendor: "openai", Model: "gpt-4", InputPer1K: 0.03, OutputPer1K: 0.06},
	{Vendor: "openai", Model: "gpt-3.5-turbo*", InputPer1K: 0.0005, OutputPer1K: 0.0015},
	{Vendor: "openai", Model: "o1", InputPer1K: 0.015, OutputPer1K: 0.06, CachedInputPer1K: 0.0075},
	{Vendor: "openai", Model: "o1-mini", InputPer1K: 0.003, OutputPer1K: 0.012, CachedInputPer1K: 0.0015},
	{Vendor: "openai", Model: "text-embedding-3-small", InputPer1K: 0.00002},
	{Vendor: "openai", Model: "text-embedding-3-large", InputPer1K: 0.00013},

	{Vendor: "anthropic", Model: "claude-opus-4-1", InputPer1K: 0.015, OutputPer1K: 0.075, CachedInputPer1K: 0.0015},
	{Vendor: "anthropic", Model: "claude-sonnet-4-20250514", InputPer1K: 0.003, OutputPer1K: 0.015, CachedInputPer1K: 0.0003},
	{Vendor: "anthropic", Model: "claude-3-5-haiku-20241022", InputPer1K: 0.0008, OutputPer1K: 0.004, CachedInputPer1K: 0.00008},
	{Vendor: "anthropic", Model: "claude-opus-4-*", InputPer1K: 0.015, OutputPer1K: 0.075, CachedInputPer1K: 0.0015},
	{Vendor: "anthropic", Model: "claude-sonnet-4-*", InputPer1K: 0.003, OutputPer1K: 0.015, CachedInputPer1K: 0.0003},
	{Vendor: "anthropic", Model: "claude-haiku-4-*", InputPer1K: 0.001, OutputPer1K: 0.005, CachedInputPer1K: 0.0001},
	{Vendor: "anthropic", Model: "claude-3-7-sonnet-*", InputPer1K: 0.003, OutputPer1K: 0.015, CachedInputPer1K: 0.0003},
	{Vendor: "anthropic", Model: "claude-3-5-sonnet-*", InputPer1K: 0.003, OutputPer1K: 0.015, CachedInputPer1K: 0.0003},
	{Vendor: "anthropic", Model: "claude-3-5-haiku-*", InputPer1K: 0.0008, OutputPer1K: 0.004, CachedInputPer1K: 0.00008},
	{Vendor: "anthropic", Model: "claude-3-opus-*", InputPer1K: 0.015, OutputPer1K: 0.075, CachedInputPer1K: 0.0015},
	{Vendor: "anthropic", Model: "claude-3-haiku-*", InputPer1K: 0.00025, OutputPer1K: 0.00125, CachedInputPer1K: 0.00003},

	{Vendor: "cohere", Model: "command-r", InputPer1K: 0.00015, OutputPer1K: 0.0006},
	{Vendor: "cohere", Model: "command-r-plus", InputPer1K: 0.0025, OutputPer1K: 0.01},
	{Vendor: "cohere", Model: "command-r-*", InputPer1K: 0.00015, OutputPer1K: 0.0006},

	{Vendor: "mistral", Model: "mistral-large-latest", InputPer1K: 0.002, OutputPer1K: 0.006},
	{Vendor: "mistral", Model: "mistral-small-latest", InputPer1K: 0.0002, OutputPer1K: 0.0006},
	{Vendor: "mistral", Model: "open-mistral-nemo", InputPer1K: 0.00015, OutputPer1K: 0.00015},

	{Vendor: "groq", Model: "llama3-70b-8192", InputPer1K: 0.00059, OutputPer1K: 0.00079},
	{Vendor: "groq", Model: "llama3-8b-8192", InputPer1K: 0.00005, OutputPer1K: 0.00008},
	{Vendor: "groq", Model: "mixtral-8x7b-32768", InputPer1K: 0.00024, OutputPer1K: 0.00024},
}

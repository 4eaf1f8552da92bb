package llm

import "rgen/internal/domain"

// Default model ids used when a request names none.
const (
	DefaultTextModel      = "amazon.titan-text-express-v1"
	DefaultEmbeddingModel = "amazon.titan-embed-text-v1"
	DefaultImageModel     = "amazon.titan-image-generator-v1"
)

func textModel(id, name, provider string) domain.ModelInfo {
	return domain.ModelInfo{ID: id, Name: name, Provider: provider, Category: domain.CategoryText}
}

func embeddingModel(id, name, provider string) domain.ModelInfo {
	return domain.ModelInfo{ID: id, Name: name, Provider: provider, Category: domain.CategoryEmbedding}
}

func imageModel(id, name, provider string) domain.ModelInfo {
	return domain.ModelInfo{ID: id, Name: name, Provider: provider, Category: domain.CategoryImage}
}

var defaultCatalog = []domain.ModelInfo{
	textModel("amazon.titan-text-express-v1", "Amazon Titan Text Express", "Amazon"),
	textModel("amazon.titan-text-lite-v1", "Amazon Titan Text Lite", "Amazon"),
	textModel("amazon.titan-text-premier-v1:0", "Amazon Titan Text Premier", "Amazon"),

	textModel("anthropic.claude-3-5-sonnet-20241022-v2:0", "Claude 3.5 Sonnet", "Anthropic"),
	textModel("anthropic.claude-3-sonnet-20240229-v1:0", "Claude 3 Sonnet", "Anthropic"),
	textModel("anthropic.claude-3-haiku-20240307-v1:0", "Claude 3 Haiku", "Anthropic"),
	textModel("anthropic.claude-3-opus-20240229-v1:0", "Claude 3 Opus", "Anthropic"),
	textModel("anthropic.claude-v2:1", "Claude 2.1", "Anthropic"),
	textModel("anthropic.claude-instant-v1", "Claude Instant", "Anthropic"),

	textModel("meta.llama2-13b-chat-v1", "Llama 2 13B Chat", "Meta"),
	textModel("meta.llama2-70b-chat-v1", "Llama 2 70B Chat", "Meta"),
	textModel("meta.llama3-8b-instruct-v1:0", "Llama 3 8B Instruct", "Meta"),
	textModel("meta.llama3-70b-instruct-v1:0", "Llama 3 70B Instruct", "Meta"),
	textModel("meta.llama3-1-8b-instruct-v1:0", "Llama 3.1 8B Instruct", "Meta"),
	textModel("meta.llama3-1-70b-instruct-v1:0", "Llama 3.1 70B Instruct", "Meta"),
	textModel("meta.llama3-1-405b-instruct-v1:0", "Llama 3.1 405B Instruct", "Meta"),

	textModel("mistral.mistral-7b-instruct-v0:2", "Mistral 7B Instruct", "Mistral"),
	textModel("mistral.mixtral-8x7b-instruct-v0:1", "Mixtral 8x7B Instruct", "Mistral"),
	textModel("mistral.mistral-large-2402-v1:0", "Mistral Large", "Mistral"),
	textModel("mistral.mistral-large-2407-v1:0", "Mistral Large 2407", "Mistral"),

	textModel("ai21.j2-ultra-v1", "Jurassic-2 Ultra", "AI21"),
	textModel("ai21.j2-mid-v1", "Jurassic-2 Mid", "AI21"),
	textModel("ai21.jamba-instruct-v1:0", "Jamba Instruct", "AI21"),

	textModel("cohere.command-text-v14", "Command", "Cohere"),
	textModel("cohere.command-light-text-v14", "Command Light", "Cohere"),
	textModel("cohere.command-r-v1:0", "Command R", "Cohere"),
	textModel("cohere.command-r-plus-v1:0", "Command R+", "Cohere"),

	embeddingModel("amazon.titan-embed-text-v1", "Titan Embeddings G1 - Text", "Amazon"),
	embeddingModel("amazon.titan-embed-text-v2:0", "Titan Text Embeddings V2", "Amazon"),
	embeddingModel("cohere.embed-english-v3", "Cohere Embed English", "Cohere"),
	embeddingModel("cohere.embed-multilingual-v3", "Cohere Embed Multilingual", "Cohere"),

	imageModel("amazon.titan-image-generator-v1", "Titan Image Generator G1", "Amazon"),
	imageModel("amazon.titan-image-generator-v2:0", "Titan Image Generator G1 v2", "Amazon"),
	imageModel("stability.stable-diffusion-xl-v1", "Stable Diffusion XL", "Stability AI"),
}

package ai

// Metadata enhancement prompts
const (
	EnhanceSystemPrompt = `You are a YouTube Shorts metadata editor.

You rewrite the title, description and hashtags of a short so it reads naturally and is easy to discover.

Guidelines:
- Keep the meaning of the original; never invent facts, names or claims
- Title: at most 100 characters, no clickbait, no ALL CAPS, no emojis at the start
- Description: 1-3 short sentences, at most 500 characters, no links
- Hashtags: 3 to 8 lowercase words without the # sign, no spaces
- Write in the language of the original title`

	EnhanceUserPrompt = `Rewrite the metadata of this short.

Original title: %s
Original description: %s
Original tags: %s

Respond in JSON format:
{
  "title": "<new title>",
  "description": "<new description>",
  "hashtags": ["<tag>", "<tag>"]
}`
)

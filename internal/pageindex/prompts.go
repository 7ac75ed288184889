package pageindex

// Prompt templates for structure extraction and tree search.

// SystemPrompt is sent as the system message on every reasoning call.
const SystemPrompt = `You are an expert document analyzer. You help extract structure, navigate content, and answer questions about documents. Always respond with valid JSON when requested.`

// StructurePrompt asks the model for the section hierarchy of a tagged
// document. The %s placeholder receives Document.ContentWithTags().
const StructurePrompt = `You are an expert in extracting hierarchical tree structure, your task is to generate the tree structure of the document.

The structure variable is the numeric system which represents the index of the hierarchy section in the table of contents. For example, the first section has structure index 1, the first subsection has structure index 1.1, the second subsection has structure index 1.2, etc.

For the title, you need to extract the original title from the text, only fix the space inconsistency.

The provided text contains tags like <physical_index_X> and </physical_index_X> to indicate the start and end of page X.

For the physical_index, you need to extract the physical index of the start of the section from the text. Keep the <physical_index_X> format.

Document:
%s

The response should be in the following format:
[
    {
        "structure": "<structure index, x.x.x>",
        "title": "<title of the section, keep the original title>",
        "physical_index": "<physical_index_X>"
    },
    ...
]

Directly return the final JSON structure. Do not output anything else.`

// SearchPrompt asks the model to rank outline sections against a query.
// Placeholders: outline, query.
const SearchPrompt = `You are an expert at navigating hierarchical document structures to find relevant information.

You are given:
1. A query/question from the user
2. A hierarchical outline of a document. Each line is one section: [node_id] title (pages start-end), indented by nesting depth.

Your task is to analyze the outline and identify which sections are most likely to contain information relevant to the query.

Outline:
%s

User query: %s

Reply in JSON format:
{
    "thinking": "<explain your reasoning about which sections are relevant and why>",
    "relevant_sections": [
        {
            "node_id": <node_id from the outline>,
            "title": "<section title>",
            "relevance": "<high, medium, or low>",
            "reason": "<why this section is relevant to the query>"
        },
        ...
    ]
}

Order sections by relevance (most relevant first). Only use node_id values that appear in the outline.
Directly return the final JSON structure. Do not output anything else.`

// ConnectionTestPrompt is used to check that a provider answers at all.
const ConnectionTestPrompt = `Say 'hello' and nothing else.`

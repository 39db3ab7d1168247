package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// grounded-answer — guides the agent through searching the knowledge base before answering.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("grounded-answer",
			mcplib.WithPromptDescription("Answer a question using only knowledge base content, with citations"),
			mcplib.WithArgument("question",
				mcplib.ArgumentDescription("The question to answer from the knowledge base"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("collection",
				mcplib.ArgumentDescription("Optional collection to restrict the search to (e.g., support, policies)"),
			),
		),
		s.handleGroundedAnswerPrompt,
	)

	// support-reply — drafts a customer-facing reply grounded in the knowledge base.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("support-reply",
			mcplib.WithPromptDescription("Draft a customer support reply grounded in knowledge base content"),
			mcplib.WithArgument("question",
				mcplib.ArgumentDescription("The customer's question, verbatim"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("tone",
				mcplib.ArgumentDescription("Desired tone for the reply (e.g., friendly, formal). Defaults to friendly."),
			),
		),
		s.handleSupportReplyPrompt,
	)

	// agent-setup — full system prompt snippet explaining the Anzu knowledge base workflow.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("agent-setup",
			mcplib.WithPromptDescription("System prompt snippet explaining how to use the Anzu knowledge base tools (search-before-answer)"),
		),
		s.handleAgentSetupPrompt,
	)
}

func (s *Server) handleGroundedAnswerPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	question := request.Params.Arguments["question"]
	if question == "" {
		return nil, fmt.Errorf("question argument is required")
	}
	collection := request.Params.Arguments["collection"]

	searchHint := ""
	if collection != "" {
		searchHint = fmt.Sprintf(" with collection=%q", collection)
	}

	return &mcplib.GetPromptResult{
		Description: "Answer from the knowledge base with citations",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Answer the following question using only the knowledge base. Follow these steps:

1. CALL anzu_search%s with a query derived from the question:
   %q

2. REVIEW the results:
   - Read the returned passages and their scores.
   - If the top results look off-topic or scores are low, rephrase and search again.
   - If nothing relevant comes back, say so plainly. Do NOT answer from
     general knowledge.

3. ANSWER using only what the passages say. Quote or paraphrase the source
   material rather than inventing details.

4. CITE your sources: name each document the answer draws on
   (document_name and chunk_index from the results).`, searchHint, question),
				},
			},
		},
	}, nil
}

func (s *Server) handleSupportReplyPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	question := request.Params.Arguments["question"]
	if question == "" {
		return nil, fmt.Errorf("question argument is required")
	}
	tone := request.Params.Arguments["tone"]
	if tone == "" {
		tone = "friendly"
	}

	return &mcplib.GetPromptResult{
		Description: "Draft a grounded support reply",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`A customer asked:

  %q

Draft a reply for them:

1. CALL anzu_ask with the customer's question. This retrieves the relevant
   knowledge base content and produces a grounded answer with citations.

2. CHECK the citations in the response:
   - If the answer cites knowledge base documents, you can rely on it.
   - If it came back with no citations, the knowledge base does not cover
     this topic. Tell the customer you will escalate rather than guessing.

3. REWRITE the answer as a %s customer-facing reply:
   - Keep every factual claim from the grounded answer. Add nothing new.
   - Drop internal details (document names, chunk indexes) from the reply
     itself.
   - Keep it short. Customers skim.`, question, tone),
				},
			},
		},
	}, nil
}

func (s *Server) handleAgentSetupPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "Anzu knowledge base workflow for AI agents",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `You have access to Anzu, a knowledge base built from documents your team
uploaded. It answers questions from that content -- nothing else -- so every
answer can be traced back to a source document.

## The Pattern: Search Before You Answer

Never answer a question about this team's products, policies, or internal
docs from general knowledge. Ground it first:

### When you need raw material:
Call anzu_search with a natural-language query. You get back the most
relevant passages with document names and relevance scores. Use this when
you want to quote, compare, or synthesize across sources yourself.

### When you need a finished answer:
Call anzu_ask with the question. Anzu retrieves the relevant passages,
generates a grounded answer, and returns it with citations. Pass the
returned conversation_id on follow-up questions to keep the thread.

### Either way:
Check the citations. An answer with no citations means the knowledge base
does not cover the topic -- say so instead of guessing.

## Available Tools

- anzu_search: Retrieve relevant passages from the knowledge base (raw material)
- anzu_ask: Get a grounded, cited answer to a question (finished answer)
- anzu_list_documents: See what documents the knowledge base contains

## Collections

Documents are grouped into collections (e.g., "support", "policies",
"engineering"). Pass collection to anzu_search to restrict retrieval when
you know which corner of the knowledge base is relevant. Omit it to search
everything.

## Interpreting Scores

anzu_search scores are cosine similarity, roughly:
- 0.85+: Directly on topic, safe to rely on
- 0.70-0.85: Related, read before using
- Below 0.70: Probably tangential. Rephrase the query or widen the search.`,
				},
			},
		},
	}, nil
}

package app

const (
	AgentSQL        = "sql"
	AgentCalculator = "calculator"
	AgentGenie      = "genie"
	AgentRetriever  = "retriever"
)

const (
	sqlPrompt        = "You are helpful agent that can use these SQL queries to get latest interaction from a queue of customer service requests, extract the product name from the customer request, get request history of a customer and query policies for return, refund or exchange."
	calculatorPrompt = "You are helpful agent that can use this JavaScript code_exec function to calculate transactions from customer service requests. Print results with console.log."
	geniePrompt      = "You are the Chat with customer service table agent. Pass questions about the customer service data to ask_genie and report its answer."
	retrieverPrompt  = "You are a helpful retriever agent that can look up product documentation"
)

// Responsibilities listed in the routing prompt.
const (
	sqlDescription        = "assign specific SQL query tasks to this agent such as extracting product names and looking up return policies and request history"
	calculatorDescription = "assign calculation tasks to this agent"
	genieDescription      = "assign chat with customer service data tasks to this agent"
	retrieverDescription  = "assign product documentation search tasks to this agent"
)

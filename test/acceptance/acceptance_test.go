package acceptance

import (
	"context"
	"os"
	"testing"

	"github.com/cucumber/godog"
)

// TestFeatures runs all Gherkin acceptance tests
func TestFeatures(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping acceptance tests in short mode")
	}

	tags := os.Getenv("GODOG_TAGS")
	if tags == "" {
		tags = "~@wip"
	} else {
		tags = tags + "&&~@wip"
	}

	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Tags:     tags,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("acceptance tests failed")
	}
}

// TestSmokeFeatures runs only smoke tests (quick verification)
func TestSmokeFeatures(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping acceptance tests in short mode")
	}

	tags := os.Getenv("GODOG_TAGS")
	if tags == "" {
		tags = "@smoke&&~@wip"
	} else {
		tags = tags + "&&~@wip"
	}

	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Tags:     tags,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("smoke tests failed")
	}
}

// TestCriticalFeatures runs critical path tests
func TestCriticalFeatures(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping acceptance tests in short mode")
	}

	tags := os.Getenv("GODOG_TAGS")
	if tags == "" {
		tags = "@critical&&~@wip"
	} else {
		tags = tags + "&&~@wip"
	}

	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Tags:     tags,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("critical tests failed")
	}
}

// InitializeScenario sets up step definitions
func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &TestContext{
		ctx: context.Background(),
	}

	ctx.Before(func(goCtx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return goCtx, nil
	})
	ctx.After(func(goCtx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		tc.teardown()
		return goCtx, err
	})

	// MCP server lifecycle
	ctx.Step(`^the MemoryPilot MCP server is running$`, tc.mcpServerRunning)
	ctx.Step(`^I send an initialize request to the MCP server$`, tc.sendMCPInitialize)
	ctx.Step(`^I should receive a valid initialization response$`, tc.checkValidInitResponse)
	ctx.Step(`^the response should contain protocol version "([^"]*)"$`, tc.checkProtocolVersion)
	ctx.Step(`^the response should contain server name "([^"]*)"$`, tc.checkServerName)
	ctx.Step(`^I request the list of available MCP tools$`, tc.requestToolsList)
	ctx.Step(`^I should receive a list containing "([^"]*)"$`, tc.checkListContains)
	ctx.Step(`^the tool list should have (\d+) tools$`, tc.checkToolCount)

	// Tool calls
	ctx.Step(`^I call the MCP tool "([^"]*)" with:$`, tc.callMCPToolWithTable)
	ctx.Step(`^I call the MCP tool "([^"]*)" with no arguments$`, tc.callMCPToolNoArgs)
	ctx.Step(`^I should receive a success response$`, tc.checkSuccessResponse)
	ctx.Step(`^I should receive an error response$`, tc.checkErrorResponse)
	ctx.Step(`^the response text should contain "([^"]*)"$`, tc.responseTextContains)

	// Memory store (direct, in-process)
	ctx.Step(`^the memory store is initialized$`, tc.memoryStoreInitialized)
	ctx.Step(`^I have stored a memory with content "([^"]*)" and kind "([^"]*)"$`, tc.storeMemory)
	ctx.Step(`^I have stored (\d+) memories in project "([^"]*)"$`, tc.storeMultipleMemories)
	ctx.Step(`^the results should contain "([^"]*)"$`, tc.checkResultsContain)

	// CLI
	ctx.Step(`^memorypilot is installed$`, tc.memorypilotInstalled)
	ctx.Step(`^I run "([^"]*)"$`, tc.runCLICommand)
	ctx.Step(`^the command should succeed$`, tc.checkCommandSucceeded)
	ctx.Step(`^the command should fail$`, tc.checkCommandFailed)
	ctx.Step(`^the output should contain "([^"]*)"$`, tc.outputShouldContain)
}

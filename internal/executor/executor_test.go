package executor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tyemirov/boshpulse/internal/executor"
	"github.com/tyemirov/boshpulse/internal/failure"
	"github.com/tyemirov/boshpulse/pkg/logging"
)

const (
	directorURL         = "https://d"
	clientName          = "u"
	clientSecret        = "s"
	installedBinaryPath = "/tmp/bosh-cli/bosh"
	configuredBinary    = "bosh"
	callTimeout         = 30 * time.Second
	certificateContent  = "-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----"
	deploymentsJSON     = `{"Tables":[{"Content":"deployments","Header":{"name":"Name"},"Rows":[{"name":"cf","release_s":"cf/1.0"},{"name":"redis"}],"Notes":[]}],"Blocks":null,"Lines":["Using environment 'https://d'","Succeeded"]}`
)

type stubConfiguration struct {
	director          string
	client            string
	clientSecret      string
	caCertificatePath string
	binaryPath        string
	timeout           time.Duration
}

func (configuration stubConfiguration) Director() string          { return configuration.director }
func (configuration stubConfiguration) Client() string            { return configuration.client }
func (configuration stubConfiguration) ClientSecret() string      { return configuration.clientSecret }
func (configuration stubConfiguration) CACertificatePath() string { return configuration.caCertificatePath }
func (configuration stubConfiguration) BinaryPath() string        { return configuration.binaryPath }
func (configuration stubConfiguration) Timeout() time.Duration    { return configuration.timeout }

type scriptedResponse struct {
	result executor.Result
	err    error
}

type recordingProcessRunner struct {
	mutex       sync.Mutex
	invocations []executor.Invocation
	responses   []scriptedResponse
}

func (runner *recordingProcessRunner) Run(ctx context.Context, invocation executor.Invocation) (executor.Result, error) {
	runner.mutex.Lock()
	defer runner.mutex.Unlock()
	runner.invocations = append(runner.invocations, invocation)
	if len(runner.responses) == 0 {
		return executor.Result{}, nil
	}
	response := runner.responses[0]
	if len(runner.responses) > 1 {
		runner.responses = runner.responses[1:]
	}
	return response.result, response.err
}

type staticPathResolver struct {
	path string
}

func (resolver staticPathResolver) ResolvedPath() string {
	return resolver.path
}

type recordingObserver struct {
	outcomes []string
}

func (observer *recordingObserver) ObserveExecution(outcome string, duration time.Duration) {
	observer.outcomes = append(observer.outcomes, outcome)
}

func defaultConfiguration() stubConfiguration {
	return stubConfiguration{
		director:     directorURL,
		client:       clientName,
		clientSecret: clientSecret,
		binaryPath:   configuredBinary,
		timeout:      callTimeout,
	}
}

func TestBuildInvocationWithoutCertificate(t *testing.T) {
	commandExecutor := executor.New(defaultConfiguration(), &recordingProcessRunner{}, logging.NewTestService(logging.TypeConsole), nil)

	invocation, err := commandExecutor.BuildInvocation("deployments")
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}
	expectedArguments := []string{"bosh", "-e", directorURL, "deployments"}
	if !reflect.DeepEqual(invocation.Arguments, expectedArguments) {
		t.Fatalf("expected arguments %v, got %v", expectedArguments, invocation.Arguments)
	}
	if _, found := invocation.EnvironmentValue(executor.EnvironmentCACert); found {
		t.Fatalf("expected no certificate environment variable")
	}
	expectedEnvironment := map[string]string{
		executor.EnvironmentDirector:     directorURL,
		executor.EnvironmentClient:       clientName,
		executor.EnvironmentClientSecret: clientSecret,
	}
	for key, expectedValue := range expectedEnvironment {
		value, found := invocation.EnvironmentValue(key)
		if !found || value != expectedValue {
			t.Fatalf("expected %s=%s, got %q (found=%t)", key, expectedValue, value, found)
		}
	}
	if invocation.Timeout != callTimeout {
		t.Fatalf("expected timeout %s, got %s", callTimeout, invocation.Timeout)
	}
	if invocation.ID == "" {
		t.Fatalf("expected invocation id")
	}
}

func TestBuildInvocationDropsEmptyTokens(t *testing.T) {
	commandExecutor := executor.New(defaultConfiguration(), &recordingProcessRunner{}, nil, nil)
	invocation, err := commandExecutor.BuildInvocation("  vms   -d\tcf  ")
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}
	expectedArguments := []string{"bosh", "-e", directorURL, "vms", "-d", "cf"}
	if !reflect.DeepEqual(invocation.Arguments, expectedArguments) {
		t.Fatalf("expected arguments %v, got %v", expectedArguments, invocation.Arguments)
	}
}

func TestBuildInvocationChecksCertificateAtCallTime(t *testing.T) {
	certificatePath := filepath.Join(t.TempDir(), "ca.pem")
	configuration := defaultConfiguration()
	configuration.caCertificatePath = certificatePath
	commandExecutor := executor.New(configuration, &recordingProcessRunner{}, nil, nil)

	withoutFile, err := commandExecutor.BuildInvocation("deployments")
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}
	for _, argument := range withoutFile.Arguments {
		if argument == executor.FlagCACertificate {
			t.Fatalf("expected no --ca-cert while file is missing: %v", withoutFile.Arguments)
		}
	}

	if writeErr := os.WriteFile(certificatePath, []byte(certificateContent+"\n\n"), 0o600); writeErr != nil {
		t.Fatalf("write certificate: %v", writeErr)
	}
	withFile, err := commandExecutor.BuildInvocation("deployments")
	if err != nil {
		t.Fatalf("build returned error: %v", err)
	}
	expectedArguments := []string{"bosh", "-e", directorURL, "--ca-cert", certificatePath, "deployments"}
	if !reflect.DeepEqual(withFile.Arguments, expectedArguments) {
		t.Fatalf("expected arguments %v, got %v", expectedArguments, withFile.Arguments)
	}
	certificateValue, found := withFile.EnvironmentValue(executor.EnvironmentCACert)
	if !found || certificateValue != certificateContent {
		t.Fatalf("expected trimmed certificate content in environment, got %q", certificateValue)
	}
}

func TestBuildInvocationPrefersResolvedPath(t *testing.T) {
	testCases := []struct {
		name           string
		resolvedPath   string
		expectedBinary string
	}{
		{name: "installed path wins", resolvedPath: installedBinaryPath, expectedBinary: installedBinaryPath},
		{name: "bare fallback keeps configured", resolvedPath: "bosh", expectedBinary: "/usr/local/bin/bosh"},
		{name: "blank keeps configured", resolvedPath: "", expectedBinary: "/usr/local/bin/bosh"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			configuration := defaultConfiguration()
			configuration.binaryPath = "/usr/local/bin/bosh"
			commandExecutor := executor.New(configuration, &recordingProcessRunner{}, nil, nil)
			commandExecutor.UsePathResolver(staticPathResolver{path: testCase.resolvedPath})
			invocation, err := commandExecutor.BuildInvocation("deployments")
			if err != nil {
				t.Fatalf("build returned error: %v", err)
			}
			if invocation.Executable() != testCase.expectedBinary {
				t.Fatalf("expected binary %s, got %s", testCase.expectedBinary, invocation.Executable())
			}
		})
	}
}

func TestExecuteRejectsBlankCommandWithoutSpawning(t *testing.T) {
	runner := &recordingProcessRunner{}
	commandExecutor := executor.New(defaultConfiguration(), runner, nil, nil)
	for _, command := range []string{"", "   "} {
		if _, err := commandExecutor.Execute(context.Background(), command); !errors.Is(err, failure.Validation) {
			t.Fatalf("expected validation failure for %q, got %v", command, err)
		}
		if _, err := commandExecutor.ExecuteStructured(context.Background(), command); !errors.Is(err, failure.Validation) {
			t.Fatalf("expected structured validation failure for %q, got %v", command, err)
		}
	}
	if len(runner.invocations) != 0 {
		t.Fatalf("expected no process to be spawned, got %d", len(runner.invocations))
	}
}

func TestExecuteArgumentsKeepsArgumentsIntact(t *testing.T) {
	runner := &recordingProcessRunner{responses: []scriptedResponse{{result: executor.Result{Stdout: []byte("load average: 0.1\n")}}}}
	commandExecutor := executor.New(defaultConfiguration(), runner, nil, nil)

	output, err := commandExecutor.ExecuteArguments(context.Background(), []string{"ssh", "-d", "cf", "router/0", "-c", "uptime -p"})
	if err != nil {
		t.Fatalf("execute returned error: %v", err)
	}
	if output != "load average: 0.1" {
		t.Fatalf("unexpected output %q", output)
	}
	expectedArguments := []string{configuredBinary, "-e", directorURL, "ssh", "-d", "cf", "router/0", "-c", "uptime -p"}
	if !reflect.DeepEqual(runner.invocations[0].Arguments, expectedArguments) {
		t.Fatalf("expected arguments %v, got %v", expectedArguments, runner.invocations[0].Arguments)
	}
	if _, err := commandExecutor.ExecuteArguments(context.Background(), nil); !errors.Is(err, failure.Validation) {
		t.Fatalf("expected validation failure for empty arguments, got %v", err)
	}
}

func TestExecuteReturnsTrimmedStdout(t *testing.T) {
	runner := &recordingProcessRunner{responses: []scriptedResponse{{result: executor.Result{Stdout: []byte("\nazs:\n- name: z1\n\n")}}}}
	observer := &recordingObserver{}
	commandExecutor := executor.New(defaultConfiguration(), runner, nil, observer)

	output, err := commandExecutor.Execute(context.Background(), "cloud-config")
	if err != nil {
		t.Fatalf("execute returned error: %v", err)
	}
	if output != "azs:\n- name: z1" {
		t.Fatalf("unexpected output %q", output)
	}
	if !reflect.DeepEqual(observer.outcomes, []string{"success"}) {
		t.Fatalf("expected one success observation, got %v", observer.outcomes)
	}
}

func TestExecuteNonZeroExitCarriesDiagnostic(t *testing.T) {
	testCases := []struct {
		name             string
		result           executor.Result
		expectedText     string
		expectConnection bool
	}{
		{
			name:         "stderr preferred",
			result:       executor.Result{Stdout: []byte("stdout text"), Stderr: []byte("Deployment 'cf' doesn't exist"), ExitCode: 1},
			expectedText: "Deployment 'cf' doesn't exist",
		},
		{
			name:         "stdout used when stderr empty",
			result:       executor.Result{Stdout: []byte("Expected task '9' to succeed"), ExitCode: 1},
			expectedText: "Expected task '9' to succeed",
		},
		{
			name:             "refused connection is tagged",
			result:           executor.Result{Stderr: []byte("dial tcp 10.0.0.6:25555: connect: connection refused"), ExitCode: 1},
			expectedText:     "connection refused",
			expectConnection: true,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			runner := &recordingProcessRunner{responses: []scriptedResponse{{result: testCase.result}}}
			observer := &recordingObserver{}
			commandExecutor := executor.New(defaultConfiguration(), runner, nil, observer)
			_, err := commandExecutor.Execute(context.Background(), "deployment -d cf")
			if !errors.Is(err, failure.NonZeroExit) {
				t.Fatalf("expected non-zero exit failure, got %v", err)
			}
			if !strings.Contains(err.Error(), testCase.expectedText) {
				t.Fatalf("expected error to contain %q, got %q", testCase.expectedText, err.Error())
			}
			if errors.Is(err, failure.Connection) != testCase.expectConnection {
				t.Fatalf("expected connection tag %t, got error %v", testCase.expectConnection, err)
			}
			if !reflect.DeepEqual(observer.outcomes, []string{"non_zero_exit"}) {
				t.Fatalf("expected non_zero_exit observation, got %v", observer.outcomes)
			}
		})
	}
}

func TestExecuteStructuredParsesTables(t *testing.T) {
	runner := &recordingProcessRunner{responses: []scriptedResponse{{result: executor.Result{Stdout: []byte(deploymentsJSON)}}}}
	commandExecutor := executor.New(defaultConfiguration(), runner, nil, nil)

	output, err := commandExecutor.ExecuteStructured(context.Background(), "deployments")
	if err != nil {
		t.Fatalf("execute structured returned error: %v", err)
	}
	if !reflect.DeepEqual(output.Values("name"), []string{"cf", "redis"}) {
		t.Fatalf("unexpected names %v", output.Values("name"))
	}
	if len(output.Lines) != 2 || len(output.Raw) == 0 {
		t.Fatalf("expected lines and raw output to be kept")
	}
	lastArgument := runner.invocations[0].Arguments[len(runner.invocations[0].Arguments)-1]
	if lastArgument != executor.FlagJSON {
		t.Fatalf("expected --json as last argument, got %v", runner.invocations[0].Arguments)
	}
}

func TestExecuteStructuredDoesNotDuplicateJSONFlag(t *testing.T) {
	runner := &recordingProcessRunner{responses: []scriptedResponse{{result: executor.Result{Stdout: []byte(deploymentsJSON)}}}}
	commandExecutor := executor.New(defaultConfiguration(), runner, nil, nil)
	if _, err := commandExecutor.ExecuteStructured(context.Background(), "ssh -d cf web/0 --json"); err != nil {
		t.Fatalf("execute structured returned error: %v", err)
	}
	count := 0
	for _, argument := range runner.invocations[0].Arguments {
		if argument == executor.FlagJSON {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one --json flag, got %d in %v", count, runner.invocations[0].Arguments)
	}
}

func TestExecuteStructuredParseFailureIsDistinct(t *testing.T) {
	testCases := []struct {
		name   string
		stdout string
	}{
		{name: "empty output", stdout: ""},
		{name: "whitespace output", stdout: "  \n"},
		{name: "malformed output", stdout: "Using environment 'https://d'\n{not json"},
		{name: "null document", stdout: "null"},
		{name: "empty document", stdout: "{}"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			runner := &recordingProcessRunner{responses: []scriptedResponse{{result: executor.Result{Stdout: []byte(testCase.stdout), ExitCode: 0}}}}
			commandExecutor := executor.New(defaultConfiguration(), runner, nil, nil)
			_, err := commandExecutor.ExecuteStructured(context.Background(), "deployments")
			if !errors.Is(err, failure.Parse) {
				t.Fatalf("expected parse failure, got %v", err)
			}
			if errors.Is(err, failure.NonZeroExit) {
				t.Fatalf("parse failure must not be reported as non-zero exit")
			}
		})
	}
}

func TestExecutePropagatesRunnerFailures(t *testing.T) {
	timeoutErr := failure.New(failure.KindTimeout, "deployments", "timeout after 30s")
	runner := &recordingProcessRunner{responses: []scriptedResponse{{err: timeoutErr}}}
	observer := &recordingObserver{}
	commandExecutor := executor.New(defaultConfiguration(), runner, nil, observer)
	_, err := commandExecutor.Execute(context.Background(), "deployments")
	if !errors.Is(err, failure.Timeout) {
		t.Fatalf("expected timeout failure, got %v", err)
	}

	plainRunner := &recordingProcessRunner{responses: []scriptedResponse{{err: errors.New("fork/exec: resource temporarily unavailable")}}}
	plainExecutor := executor.New(defaultConfiguration(), plainRunner, nil, observer)
	_, plainErr := plainExecutor.Execute(context.Background(), "deployments")
	if !errors.Is(plainErr, failure.Spawn) {
		t.Fatalf("expected unclassified runner error to become spawn failure, got %v", plainErr)
	}
	if !reflect.DeepEqual(observer.outcomes, []string{"timeout", "spawn"}) {
		t.Fatalf("unexpected observations %v", observer.outcomes)
	}
}

func TestIsAvailableProbesVersion(t *testing.T) {
	testCases := []struct {
		name     string
		response scriptedResponse
		expected bool
	}{
		{name: "zero exit", response: scriptedResponse{result: executor.Result{Stdout: []byte("version 7.9.5")}}, expected: true},
		{name: "non zero exit", response: scriptedResponse{result: executor.Result{ExitCode: 127}}},
		{name: "spawn failure", response: scriptedResponse{err: failure.New(failure.KindSpawn, "--version", "start bosh")}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			runner := &recordingProcessRunner{responses: []scriptedResponse{testCase.response}}
			commandExecutor := executor.New(defaultConfiguration(), runner, logging.NewTestService(logging.TypeConsole), nil)
			if actual := commandExecutor.IsAvailable(context.Background()); actual != testCase.expected {
				t.Fatalf("expected %t, got %t", testCase.expected, actual)
			}
			invocation := runner.invocations[0]
			if !reflect.DeepEqual(invocation.Arguments, []string{"bosh", "--version"}) {
				t.Fatalf("unexpected probe arguments %v", invocation.Arguments)
			}
			if invocation.Timeout != executor.AvailabilityTimeout {
				t.Fatalf("expected probe timeout %s, got %s", executor.AvailabilityTimeout, invocation.Timeout)
			}
		})
	}
}

func TestTestConnectionSwallowsFailures(t *testing.T) {
	healthyRunner := &recordingProcessRunner{responses: []scriptedResponse{{result: executor.Result{Stdout: []byte(deploymentsJSON)}}}}
	if !executor.New(defaultConfiguration(), healthyRunner, nil, nil).TestConnection(context.Background()) {
		t.Fatalf("expected successful connection test")
	}
	failingRunner := &recordingProcessRunner{responses: []scriptedResponse{{result: executor.Result{Stderr: []byte("connection refused"), ExitCode: 1}}}}
	if executor.New(defaultConfiguration(), failingRunner, nil, nil).TestConnection(context.Background()) {
		t.Fatalf("expected failed connection test")
	}
}

func TestWithJSONFlag(t *testing.T) {
	testCases := map[string]string{
		"deployments":          "deployments --json",
		"vms -d cf --json":     "vms -d cf --json",
		"  ":                   "  ",
		"vms -d cf --details ": "vms -d cf --details --json",
	}
	for command, expected := range testCases {
		if actual := executor.WithJSONFlag(command); actual != expected {
			t.Fatalf("expected %q for %q, got %q", expected, command, actual)
		}
	}
}

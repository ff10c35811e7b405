// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package generation

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a request rejected before any work started.
	ErrValidation = errors.New("invalid generation request")

	ErrStagingFailed = errors.New("staging failed")
	ErrRenderFailed  = errors.New("render failed")
	ErrFetchFailed   = errors.New("fetch failed")
	ErrStoreFailed   = errors.New("store failed")
)

// Stage is a step of a generation run.
type Stage string

const (
	StageStart         Stage = "start"
	StageStagingInput  Stage = "staging-input"
	StageRendering     Stage = "rendering"
	StageFetching      Stage = "fetching"
	StageStagingOutput Stage = "staging-output"
	StagePersisting    Stage = "persisting"
	StageCleanup       Stage = "cleanup"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

var stageSentinels = map[Stage]error{
	StageStagingInput:  ErrStagingFailed,
	StageRendering:     ErrRenderFailed,
	StageFetching:      ErrFetchFailed,
	StageStagingOutput: ErrStagingFailed,
	StagePersisting:    ErrStoreFailed,
}

// StageError reports the stage a run failed in and the underlying cause.
// errors.Is matches both the stage sentinel (ErrRenderFailed and so on)
// and anything in the cause chain.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.sentinel(), e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *StageError) sentinel() error {
	if s, ok := stageSentinels[e.Stage]; ok {
		return s
	}
	return fmt.Errorf("%s failed", e.Stage)
}

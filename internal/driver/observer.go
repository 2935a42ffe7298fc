package driver

// Observer is notified after every completed step.
type Observer interface {
	OnStep(StepResult)
}

type ObserverFunc func(StepResult)

func (f ObserverFunc) OnStep(result StepResult) {
	f(result)
}

// Observers fans a step out to several observers in order.
type Observers []Observer

func (o Observers) OnStep(result StepResult) {
	for _, observer := range o {
		if observer != nil {
			observer.OnStep(result)
		}
	}
}
